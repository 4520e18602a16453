package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultTTLMinutes applies when no token lifetime is configured.
const defaultTTLMinutes = 720

// CustomClaims extends JWT standard claims with the operator's role.
type CustomClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// GenerateAccessToken creates a signed JWT access token for an operator.
func GenerateAccessToken(op Operator, secret string, ttlMinutes int) (string, error) {
	if !IsValidSubject(op.ID) {
		return "", fmt.Errorf("%w: operator id %q", ErrTokenInvalid, op.ID)
	}
	if !IsValidRole(op.Role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, op.Role)
	}
	if ttlMinutes <= 0 {
		ttlMinutes = defaultTTLMinutes
	}

	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		Name: op.Name,
		Role: op.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a JWT access token, returning the custom claims.
// It checks the signature, expiry, and required fields.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: role %q", ErrTokenInvalid, claims.Role)
	}

	return claims, nil
}

// Operator returns the identity carried by the claims.
func (c *CustomClaims) Operator() Operator {
	return Operator{ID: c.Subject, Name: c.Name, Role: c.Role}
}
