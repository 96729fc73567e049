package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const AccountKey contextKey = "account"

// Auth validates an HS256 token and stores its subject, an account address,
// in the request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers cannot set headers on a WebSocket handshake, so the
			// token may come in the query string.
			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				authHeader := r.Header.Get("Authorization")
				tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			}

			if tokenString == "" {
				http.Error(w, "Unauthorized: No token provided", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				if secret == "" {
					logger.Sugar.Error("JWT secret is not configured")
					return nil, fmt.Errorf("server is not configured to validate JWTs")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.Sugar.Warnf("Invalid token: %v", err)
				http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Unauthorized: Could not parse token claims", http.StatusUnauthorized)
				return
			}
			sub, _ := claims["sub"].(string)
			if !common.IsHexAddress(sub) {
				http.Error(w, "Unauthorized: subject is not an account address", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), AccountKey, common.HexToAddress(sub))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Account returns the authenticated account, if any.
func Account(ctx context.Context) (common.Address, bool) {
	a, ok := ctx.Value(AccountKey).(common.Address)
	return a, ok
}
