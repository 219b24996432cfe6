package collaborators

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"pairbridge/pkg/types"
)

// JWTAuth is the default interfaces.AuthClient: it verifies an HS256 JWT
// and trusts its "sub" claim as the connecting user's id. The core never
// sees the token's signature or claims beyond the resolved id.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth builds a JWTAuth that verifies tokens signed with secret.
func NewJWTAuth(secret []byte) *JWTAuth {
	return &JWTAuth{secret: secret}
}

// Authenticate implements interfaces.AuthClient.
func (a *JWTAuth) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", types.ErrAuthInvalid
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", types.ErrAuthInvalid
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", types.ErrAuthInvalid
	}
	return sub, nil
}
