package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier checks externally issued HS256 identity tokens. Burrow never mints
// tokens; the identity provider does. Only the numeric user id in the sub
// claim is trusted.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken validates the signature and expiry and returns the user id from
// the sub claim.
func (v *Verifier) VerifyToken(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q: %w", claims.Subject, ErrInvalidToken)
	}
	return id, nil
}
