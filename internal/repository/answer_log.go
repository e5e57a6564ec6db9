package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cloo-solutions/supportdesk/internal/domain"
)

// AnswerLogEntry records one pipeline run for later evaluation.
type AnswerLogEntry struct {
	SessionID       string
	Query           string
	NormalizedQuery string
	TopK            int
	Weights         domain.Weights
	RetrievalMode   string
	Results         []AnswerLogResult
	NeedsHumanHelp  bool
	ProfileVersion  string
	DurationMs      int64
}

// AnswerLogResult is the compact per-passage record stored with a log entry.
type AnswerLogResult struct {
	PassageID string  `json:"passage_id"`
	Score     float64 `json:"score"`
	Semantic  float64 `json:"semantic"`
	Lexical   float64 `json:"lexical"`
	Trigram   float64 `json:"trigram"`
}

// AnswerFeedback is the user verdict on a logged answer.
type AnswerFeedback struct {
	AnswerID string
	Helpful  bool
	Note     string
}

// AnswerLogRepository stores answer logs and feedback.
type AnswerLogRepository struct {
	db dbtx
}

func NewAnswerLogRepository(db dbtx) *AnswerLogRepository {
	return &AnswerLogRepository{db: db}
}

func (r *AnswerLogRepository) CreateAnswerLog(ctx context.Context, entry AnswerLogEntry) (string, error) {
	weightsJSON, err := json.Marshal(entry.Weights)
	if err != nil {
		return "", err
	}
	results := entry.Results
	if results == nil {
		results = []AnswerLogResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return "", err
	}

	var id string
	err = r.db.QueryRow(ctx,
		`INSERT INTO answer_logs (session_id, query, normalized_query, top_k, weights, retrieval_mode,
		                          results, result_count, needs_human_help, profile_version, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		entry.SessionID,
		entry.Query,
		entry.NormalizedQuery,
		entry.TopK,
		weightsJSON,
		entry.RetrievalMode,
		resultsJSON,
		len(results),
		entry.NeedsHumanHelp,
		nullableString(entry.ProfileVersion),
		entry.DurationMs,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create answer log: %w", err)
	}
	return id, nil
}

// RecordFeedback stores the verdict. Repeated feedback overwrites the previous one.
func (r *AnswerLogRepository) RecordFeedback(ctx context.Context, fb AnswerFeedback) error {
	var id string
	err := r.db.QueryRow(ctx,
		`UPDATE answer_logs
		 SET helpful = $2, feedback_note = $3, feedback_at = $4
		 WHERE id = $1
		 RETURNING id`,
		fb.AnswerID, fb.Helpful, nullableString(fb.Note), time.Now().UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAnswerNotFound
	}
	return err
}
