package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

var testGatewaySecret = []byte("gateway-secret")

func signGateway(secret []byte, timestamp, body string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + "\n" + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func gatewayRequest(body, timestamp, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ingest/state", strings.NewReader(body))
	if timestamp != "" {
		req.Header.Set("X-Gateway-Timestamp", timestamp)
	}
	if signature != "" {
		req.Header.Set("X-Gateway-Signature", signature)
	}
	return req
}

func TestGatewayAuth_ValidSignature(t *testing.T) {
	ga := NewGatewayAuth(testGatewaySecret, 5*time.Minute)
	body := `{"device_id":"plug-1","relay_on":true}`
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	var seen string
	handler := ga.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		seen = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gatewayRequest(body, timestamp, signGateway(testGatewaySecret, timestamp, body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if seen != body {
		t.Fatalf("body not restored for the handler: %q", seen)
	}
}

func TestGatewayAuth_Rejections(t *testing.T) {
	ga := NewGatewayAuth(testGatewaySecret, 5*time.Minute)
	body := `{"device_id":"plug-1"}`
	now := strconv.FormatInt(time.Now().Unix(), 10)
	stale := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)

	cases := []struct {
		name      string
		timestamp string
		signature string
	}{
		{"missing timestamp", "", signGateway(testGatewaySecret, now, body)},
		{"missing signature", now, ""},
		{"non-numeric timestamp", "yesterday", signGateway(testGatewaySecret, "yesterday", body)},
		{"stale timestamp", stale, signGateway(testGatewaySecret, stale, body)},
		{"wrong secret", now, signGateway([]byte("other"), now, body)},
		{"tampered body", now, signGateway(testGatewaySecret, now, body+"x")},
		{"malformed hex", now, "zz" + signGateway(testGatewaySecret, now, body)[2:]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := ga.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler reached with invalid credentials")
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, gatewayRequest(body, tc.timestamp, tc.signature))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestGatewayAuth_NoSecretConfigured(t *testing.T) {
	ga := NewGatewayAuth(nil, 5*time.Minute)
	handler := ga.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler reached without a configured secret")
	}))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gatewayRequest("{}", timestamp, signGateway(testGatewaySecret, timestamp, "{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
