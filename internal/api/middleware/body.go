package middleware

import (
	"mime"
	"net/http"

	"github.com/cloo-solutions/supportdesk/internal/api"
)

// JSONBody caps request bodies at limit bytes and rejects bodies declared as
// anything other than JSON. Requests without a Content-Type are let through
// so bare curl calls keep working.
func JSONBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			if ct := r.Header.Get("Content-Type"); ct != "" {
				mediaType, _, err := mime.ParseMediaType(ct)
				if err != nil || mediaType != "application/json" {
					api.Error(w, http.StatusUnsupportedMediaType, "content type must be application/json")
					return
				}
			}

			if limit > 0 {
				if r.ContentLength > limit {
					api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
