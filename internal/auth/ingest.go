package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Plug gateways authenticate by signing each state report rather than
// carrying staff tokens.
const (
	gatewayTimestampHeader = "X-Gateway-Timestamp"
	gatewaySignatureHeader = "X-Gateway-Signature"
)

// GatewayAuth verifies HMAC signatures on the HTTP ingest route. A gateway
// signs unix-seconds timestamp, newline, raw body with the shared secret and
// sends the hex digest; the timestamp bounds replay.
type GatewayAuth struct {
	secret  []byte
	maxSkew time.Duration
}

// NewGatewayAuth constructs the gateway signature middleware.
func NewGatewayAuth(secret []byte, maxSkew time.Duration) *GatewayAuth {
	return &GatewayAuth{secret: secret, maxSkew: maxSkew}
}

// Wrap enforces the gateway signature and hands the handler a replayable
// body.
func (g *GatewayAuth) Wrap(next http.Handler) http.Handler {
	if g == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(g.secret) == 0 {
			writeAuthError(w, http.StatusUnauthorized, "gateway auth not configured")
			return
		}
		timestamp := r.Header.Get(gatewayTimestampHeader)
		provided, err := hex.DecodeString(r.Header.Get(gatewaySignatureHeader))
		if timestamp == "" || err != nil || len(provided) == 0 {
			writeAuthError(w, http.StatusUnauthorized, "missing gateway signature")
			return
		}
		if !g.timestampFresh(timestamp) {
			writeAuthError(w, http.StatusUnauthorized, "gateway signature expired")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		if !hmac.Equal(provided, gatewaySignature(g.secret, timestamp, body)) {
			writeAuthError(w, http.StatusUnauthorized, "invalid gateway signature")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (g *GatewayAuth) timestampFresh(timestamp string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if g.maxSkew <= 0 {
		return true
	}
	skew := time.Since(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= g.maxSkew
}

func gatewaySignature(secret []byte, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return mac.Sum(nil)
}
