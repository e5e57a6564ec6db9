package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/pagination"
)

// SessionRepository stores session turns in Postgres.
type SessionRepository struct {
	db dbtx
}

func NewSessionRepository(db dbtx) *SessionRepository {
	return &SessionRepository{db: db}
}

// Append inserts one turn. Turns are never updated or deleted.
func (r *SessionRepository) Append(ctx context.Context, turn *domain.SessionTurn) error {
	if err := domain.ValidateSessionTurn(turn); err != nil {
		return err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO session_turns (id, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append session turn: %w", err)
	}
	return nil
}

// FetchHistory returns up to limit pairs (2*limit rows) of the most recent
// turns, oldest first.
func (r *SessionRepository) FetchHistory(ctx context.Context, sessionID string, limit int) ([]domain.SessionTurn, error) {
	if limit <= 0 {
		return []domain.SessionTurn{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM session_turns
		 WHERE session_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		sessionID, limit*2,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch session history: %w", err)
	}

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

// ListTurns pages through a session oldest first.
func (r *SessionRepository) ListTurns(ctx context.Context, sessionID string, cursor *pagination.Cursor, limit int) (pagination.Page[domain.SessionTurn], error) {
	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, session_id, role, content, created_at
			 FROM session_turns
			 WHERE session_id = $1 AND (created_at, id) > ($2, $3::uuid)
			 ORDER BY created_at, id
			 LIMIT $4`,
			sessionID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, session_id, role, content, created_at
			 FROM session_turns
			 WHERE session_id = $1
			 ORDER BY created_at, id
			 LIMIT $2`,
			sessionID, limit+1,
		)
	}
	if err != nil {
		return pagination.Page[domain.SessionTurn]{}, fmt.Errorf("list session turns: %w", err)
	}

	turns, err := scanTurns(rows)
	if err != nil {
		return pagination.Page[domain.SessionTurn]{}, err
	}
	return pagination.NewPage(turns, limit, turnKey), nil
}

func scanTurns(rows pgx.Rows) ([]domain.SessionTurn, error) {
	defer rows.Close()

	turns := make([]domain.SessionTurn, 0)
	for rows.Next() {
		var t domain.SessionTurn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func reverseTurns(turns []domain.SessionTurn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}

func turnKey(t domain.SessionTurn) (string, time.Time) {
	return t.ID, t.Timestamp
}
