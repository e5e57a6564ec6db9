package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/api"
	"github.com/cloo-solutions/supportdesk/internal/api/handlers"
	"github.com/cloo-solutions/supportdesk/internal/api/middleware"
)

const maxBodyBytes int64 = 64 * 1024

type RouterConfig struct {
	Logger         *zap.Logger
	AdminToken     string
	RateLimiter    *middleware.RateLimiter
	AnswerHandler  *handlers.AnswerHandler
	SessionHandler *handlers.SessionHandler
	AdminHandler   *handlers.AdminHandler
	// Ready reports dependency health for /ready. Nil means always ready.
	Ready func(r *http.Request) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.JSONBody(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(req); err != nil {
				api.Error(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		api.Success(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}
		r.Post("/ask", cfg.AnswerHandler.Ask)
		r.Post("/ask/feedback", cfg.AnswerHandler.Feedback)
		r.Get("/sessions/{id}/turns", cfg.SessionHandler.ListTurns)
	})

	if cfg.AdminHandler != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.AdminToken))
			r.Get("/profile", cfg.AdminHandler.GetProfile)
			r.Post("/profile/reload", cfg.AdminHandler.ReloadProfile)
			r.Post("/normalize", cfg.AdminHandler.Normalize)
		})
	}

	return r
}
