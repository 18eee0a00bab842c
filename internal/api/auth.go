package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-myclean/internal/types"
)

const (
	tokenCookieKey = "token"
	// tokenQueryKey carries the token on websocket upgrades, where browsers
	// cannot set an Authorization header.
	tokenQueryKey = "access_token"
)

type contextKey string

const identityKey contextKey = "identity"

var errNoToken = errors.New("no token in request")

// Claims are issued by the account service. Subject holds the numeric
// user id.
type Claims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityKey).(types.Identity)

	return id, ok
}

func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", fmt.Errorf("malformed authorization header")
		}
		return strings.TrimSpace(token), nil
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if websocket.IsWebSocketUpgrade(r) {
		if token := r.URL.Query().Get(tokenQueryKey); token != "" {
			return token, nil
		}
	}

	return "", errNoToken
}

func parseRole(s string) (types.Role, error) {
	role := types.Role(strings.ToUpper(s))
	switch role {
	case types.RoleCustomer, types.RoleProvider, types.RoleAdmin:
		return role, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (s *MyCleanApp) verifyToken(tokenString string) (types.Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return types.Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return types.Identity{}, fmt.Errorf("invalid token")
	}

	userId, err := strconv.Atoi(claims.Subject)
	if err != nil || userId <= 0 {
		return types.Identity{}, fmt.Errorf("invalid subject claim %q", claims.Subject)
	}

	role, err := parseRole(claims.Role)
	if err != nil {
		return types.Identity{}, err
	}

	return types.Identity{UserId: userId, Role: role}, nil
}
