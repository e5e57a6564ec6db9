package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/supportdesk/internal/api"
	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/pagination"
)

type SessionService interface {
	ListTurns(ctx context.Context, sessionID, cursor string, limit int) (pagination.Page[domain.SessionTurn], error)
}

type SessionHandler struct {
	svc SessionService
}

func NewSessionHandler(svc SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type TurnResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type TurnsResponse struct {
	SessionID  string         `json:"session_id"`
	Turns      []TurnResponse `json:"turns"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// ListTurns handles GET /sessions/{id}/turns.
func (h *SessionHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation, "limit must be an integer"))
			return
		}
		limit = n
	}

	page, err := h.svc.ListTurns(r.Context(), sessionID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := TurnsResponse{
		SessionID:  sessionID,
		Turns:      make([]TurnResponse, len(page.Items)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for i, t := range page.Items {
		resp.Turns[i] = TurnResponse{
			ID:        t.ID,
			Role:      string(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		}
	}
	api.Success(w, http.StatusOK, resp)
}
