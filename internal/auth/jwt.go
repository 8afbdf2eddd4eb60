package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a staff token can fail validation. The
// middleware answers 401 without detailing which check failed.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the wire shape of a staff token. Subject carries the staff
// member id.
type Claims struct {
	ClinicID string `json:"clinic_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is a validated staff identity extracted from a token.
type Identity struct {
	ClinicID string
	StaffID  string
	Role     Role
}

// ParseStaffToken validates an HS256 staff token. Expiry is enforced by the
// parser with a small leeway for clock drift between the booking system that
// mints tokens and this service.
func ParseStaffToken(tokenString string, secret []byte) (Identity, error) {
	if tokenString == "" || len(secret) == 0 {
		return Identity{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	role, ok := ParseRole(claims.Role)
	if !ok || claims.ClinicID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		ClinicID: claims.ClinicID,
		StaffID:  claims.Subject,
		Role:     role,
	}, nil
}
