package service

import (
	"context"
	"strings"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/pagination"
)

// TurnLister pages through a session's history oldest-first.
type TurnLister interface {
	ListTurns(ctx context.Context, sessionID string, cursor *pagination.Cursor, limit int) (pagination.Page[domain.SessionTurn], error)
}

type SessionService struct {
	turns TurnLister
}

func NewSessionService(turns TurnLister) *SessionService {
	return &SessionService{turns: turns}
}

// ListTurns returns one page of a session. An unknown session is an empty page.
func (s *SessionService) ListTurns(ctx context.Context, sessionID, cursor string, limit int) (pagination.Page[domain.SessionTurn], error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return pagination.Page[domain.SessionTurn]{}, domain.ErrInvalidSessionID
	}
	c, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return pagination.Page[domain.SessionTurn]{}, domain.ErrInvalidPagination
	}

	page, err := s.turns.ListTurns(ctx, sessionID, c, pagination.ClampLimit(limit))
	if err != nil {
		return pagination.Page[domain.SessionTurn]{}, err
	}
	if page.Items == nil {
		page.Items = []domain.SessionTurn{}
	}
	return page, nil
}
