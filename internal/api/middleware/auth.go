package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cloo-solutions/supportdesk/internal/api"
	"github.com/cloo-solutions/supportdesk/internal/domain"
)

type contextKey string

const AdminKey contextKey = "admin"

// AdminToken guards operator endpoints with a static bearer token. An empty
// token disables the routes entirely.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				api.Error(w, http.StatusNotFound, "not found")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.HandleError(w, domain.NewDomainError(domain.ErrCodeUnauthorized, "missing authorization header"))
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.HandleError(w, domain.NewDomainError(domain.ErrCodeUnauthorized, "invalid authorization format"))
				return
			}

			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				api.HandleError(w, domain.ErrInvalidAdminToken)
				return
			}

			ctx := context.WithValue(r.Context(), AdminKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IsAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(AdminKey).(bool)
	return ok
}
