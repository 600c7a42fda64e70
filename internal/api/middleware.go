package api

import (
	"errors"
	"net/http"
	"strings"

	"chatrelay-backend/internal/auth"
	"chatrelay-backend/pkg/httputil"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// --- JWT Middleware ---

// JwtAuthMiddleware verifies the bearer token from the Authorization header.
// If valid, it injects the token subject into the request context.
func JwtAuthMiddleware(jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.Named("auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing Authorization header", zap.String("path", r.URL.Path))
				httputil.RespondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				logger.Debug("Malformed Authorization header")
				httputil.RespondError(w, http.StatusUnauthorized, "Malformed Authorization header (Expected: Bearer <token>)")
				return
			}

			claims, err := auth.ParseToken(parts[1], jwtSecret)
			if err != nil {
				logger.Info("Rejected token", zap.Error(err))
				switch {
				case errors.Is(err, jwt.ErrTokenExpired):
					httputil.RespondError(w, http.StatusUnauthorized, "Token has expired")
				case errors.Is(err, jwt.ErrTokenMalformed):
					httputil.RespondError(w, http.StatusUnauthorized, "Malformed token")
				case errors.Is(err, auth.ErrMissingSubject):
					httputil.RespondError(w, http.StatusUnauthorized, "Invalid token claims (missing subject)")
				default:
					httputil.RespondError(w, http.StatusUnauthorized, "Invalid token")
				}
				return
			}

			ctx := auth.WithClientID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
