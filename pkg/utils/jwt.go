package utils

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// OperatorClaimsKey is where AuthMiddleware stores the validated claims.
const OperatorClaimsKey contextKey = "operator_claims"

const (
	TokenIssuer = "go-hermes"
	// ScopeAdmin grants the /api routes.
	ScopeAdmin = "admin"
)

var ErrNoOperator = errors.New("token names no operator")

var jwtSecret = []byte("secret")

// SetSecret allows injecting the secret from config
func SetSecret(secret string) {
	jwtSecret = []byte(secret)
}

// OperatorClaims identify the person or tool behind an admin API call. The
// operator is the token subject and becomes the actor of audit entries.
type OperatorClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

func (c *OperatorClaims) Operator() string { return c.Subject }

func (c *OperatorClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// IssueOperatorToken signs an HS256 token for operator.
func IssueOperatorToken(operator string, scopes []string, ttl time.Duration) (string, error) {
	if operator == "" {
		return "", ErrNoOperator
	}
	now := time.Now()
	claims := OperatorClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ParseOperatorToken checks signature, expiry and issuer. Scopes are left to
// the caller.
func ParseOperatorToken(raw string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrNoOperator
	}
	return claims, nil
}
