// Package auth verifies the bearer tokens that carry a caller's principal.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"trade-settlement-go/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the principal; the subject is the user or admin id.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues and checks HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for p valid for ttl.
func (v *Verifier) Issue(p models.Principal, ttl time.Duration) (string, error) {
	if p.Id == "" {
		return "", fmt.Errorf("principal id is required")
	}
	if p.Role != models.RoleUser && p.Role != models.RoleAdmin {
		return "", fmt.Errorf("unsupported role %q", p.Role)
	}
	now := v.now()
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Id,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse verifies tokenString and returns its principal.
func (v *Verifier) Parse(tokenString string) (models.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return models.Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.Role != models.RoleUser && claims.Role != models.RoleAdmin {
		return models.Principal{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidToken, claims.Role)
	}
	return models.Principal{Id: claims.Subject, Role: claims.Role}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
