package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/louisbranch/undertow/internal/errors"
)

// Authorizer resolves an access token to a user id before a session is
// created. A nil Authorizer on the server leaves access open.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type jwtAuthorizer struct {
	secret []byte
}

// NewJWTAuthorizer validates HMAC-signed JWT access tokens; the token
// subject becomes the session's user id.
func NewJWTAuthorizer(secret []byte) Authorizer {
	return &jwtAuthorizer{secret: secret}
}

func (a *jwtAuthorizer) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New(errors.CodeHandshakeUnauthorized, "access token is required")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", errors.Wrap(errors.CodeHandshakeUnauthorized, "validate access token", err)
	}
	if !parsed.Valid {
		return "", errors.New(errors.CodeHandshakeUnauthorized, "access token is not valid")
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New(errors.CodeHandshakeUnauthorized, "access token has no subject")
	}
	return subject, nil
}
