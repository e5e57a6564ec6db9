package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/pagination"
)

const sqliteSessionSchema = `
CREATE TABLE IF NOT EXISTS session_turns (
    id         TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content    TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_turns_session_created ON session_turns (session_id, created_at, id);
`

// SQLiteSessionRepository is a single-node session store for deployments
// that keep conversation history next to the service instead of in Postgres.
// Timestamps are stored as unix nanoseconds so ordering is exact.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// OpenSQLiteSessions opens or creates the database at path. ":memory:" is
// accepted for tests.
func OpenSQLiteSessions(path string) (*SQLiteSessionRepository, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSessionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteSessionRepository{db: db}, nil
}

func (r *SQLiteSessionRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteSessionRepository) Append(ctx context.Context, turn *domain.SessionTurn) error {
	if err := domain.ValidateSessionTurn(turn); err != nil {
		return err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_turns (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, turn.Timestamp.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append session turn: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepository) FetchHistory(ctx context.Context, sessionID string, limit int) ([]domain.SessionTurn, error) {
	if limit <= 0 {
		return []domain.SessionTurn{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM session_turns
		 WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		sessionID, limit*2,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch session history: %w", err)
	}

	turns, err := scanSQLiteTurns(rows)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

func (r *SQLiteSessionRepository) ListTurns(ctx context.Context, sessionID string, cursor *pagination.Cursor, limit int) (pagination.Page[domain.SessionTurn], error) {
	var rows *sql.Rows
	var err error

	if cursor != nil {
		ts := cursor.Timestamp.UTC().UnixNano()
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, session_id, role, content, created_at
			 FROM session_turns
			 WHERE session_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
			 ORDER BY created_at, id
			 LIMIT ?`,
			sessionID, ts, ts, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, session_id, role, content, created_at
			 FROM session_turns
			 WHERE session_id = ?
			 ORDER BY created_at, id
			 LIMIT ?`,
			sessionID, limit+1,
		)
	}
	if err != nil {
		return pagination.Page[domain.SessionTurn]{}, fmt.Errorf("list session turns: %w", err)
	}

	turns, err := scanSQLiteTurns(rows)
	if err != nil {
		return pagination.Page[domain.SessionTurn]{}, err
	}
	return pagination.NewPage(turns, limit, turnKey), nil
}

func scanSQLiteTurns(rows *sql.Rows) ([]domain.SessionTurn, error) {
	defer rows.Close()

	turns := make([]domain.SessionTurn, 0)
	for rows.Next() {
		var t domain.SessionTurn
		var role string
		var nanos int64
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &nanos); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		t.Timestamp = time.Unix(0, nanos).UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
