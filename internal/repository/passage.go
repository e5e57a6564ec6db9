package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/supportdesk/internal/domain"
)

const passageColumns = `p.id, p.content, p.normalized_content, p.normalization_version, p.source_title, p.source_url, p.updated_at`

// PassageRepository runs the per-signal candidate searches and the
// single-call hybrid function against the passages table.
type PassageRepository struct {
	db dbtx
}

func NewPassageRepository(db dbtx) *PassageRepository {
	return &PassageRepository{db: db}
}

// SearchSemantic returns nearest neighbors by cosine distance, scored 1 - distance.
func (r *PassageRepository) SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]domain.PassageHit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+passageColumns+`, 1 - (p.embedding <=> $1) AS score
		 FROM passages p
		 WHERE p.embedding IS NOT NULL
		 ORDER BY p.embedding <=> $1, p.id
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	return scanPassageHits(rows)
}

// SearchLexical ranks full-text matches of normalized_content against the
// query using websearch syntax. Only rows that match are returned.
func (r *PassageRepository) SearchLexical(ctx context.Context, normalizedQuery string, limit int) ([]domain.PassageHit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+passageColumns+`, ts_rank_cd(p.content_tsv, q)::double precision AS score
		 FROM passages p, websearch_to_tsquery('english', $1) q
		 WHERE p.content_tsv @@ q
		 ORDER BY score DESC, p.id
		 LIMIT $2`,
		normalizedQuery, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return scanPassageHits(rows)
}

// SearchTrigram returns passages whose trigram similarity to the query is at
// least floor.
func (r *PassageRepository) SearchTrigram(ctx context.Context, normalizedQuery string, floor float64, limit int) ([]domain.PassageHit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+passageColumns+`, similarity(p.normalized_content, $1)::double precision AS score
		 FROM passages p
		 WHERE similarity(p.normalized_content, $1) >= $2
		 ORDER BY score DESC, p.id
		 LIMIT $3`,
		normalizedQuery, floor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("trigram search: %w", err)
	}
	return scanPassageHits(rows)
}

// HybridParams are the arguments of match_passages_hybrid.
type HybridParams struct {
	Query        string
	Embedding    []float32
	Weights      domain.Weights
	K            int
	Oversample   int
	TrigramFloor float64

	// Per-signal candidate bounds, matching RetrievalSettings.CandidateLimit
	// in pipeline mode.
	MinCandidates int
	MaxCandidates int
}

// MatchHybrid delegates oversampling and fusion to the database.
func (r *PassageRepository) MatchHybrid(ctx context.Context, p HybridParams) ([]domain.FusedResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT passage_id, content, source_title, source_url, updated_at,
		        score, semantic_score, lexical_score, trigram_score
		 FROM match_passages_hybrid($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.Query, pgvector.NewVector(p.Embedding),
		p.Weights.Semantic, p.Weights.Lexical, p.Weights.Trigram,
		p.K, p.Oversample, float32(p.TrigramFloor),
		p.MinCandidates, p.MaxCandidates,
	)
	if err != nil {
		return nil, fmt.Errorf("match_passages_hybrid: %w", err)
	}
	defer rows.Close()

	results := make([]domain.FusedResult, 0, p.K)
	for rows.Next() {
		var fr domain.FusedResult
		var title, url *string
		if err := rows.Scan(
			&fr.Passage.ID, &fr.Passage.Content, &title, &url, &fr.Passage.UpdatedAt,
			&fr.Score, &fr.SemanticScore, &fr.LexicalScore, &fr.TrigramScore,
		); err != nil {
			return nil, err
		}
		fr.Passage.SourceTitle = derefString(title)
		fr.Passage.SourceURL = derefString(url)
		results = append(results, fr)
	}
	return results, rows.Err()
}

// ListStale returns passages whose normalized_content was produced by a
// different normalizer version.
func (r *PassageRepository) ListStale(ctx context.Context, version string, limit int) ([]domain.Passage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+passageColumns+`
		 FROM passages p
		 WHERE p.normalization_version <> $1
		 ORDER BY p.id
		 LIMIT $2`,
		version, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []domain.Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// UpdateNormalized rewrites the derived text of one passage. The version
// guard keeps a slower worker from overwriting a newer result.
func (r *PassageRepository) UpdateNormalized(ctx context.Context, id, normalized, version string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE passages
		 SET normalized_content = $2, normalization_version = $3
		 WHERE id = $1 AND normalization_version <> $3`,
		id, normalized, version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountStale reports how many passages still need renormalization.
func (r *PassageRepository) CountStale(ctx context.Context, version string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM passages WHERE normalization_version <> $1`, version,
	).Scan(&n)
	return n, err
}

func scanPassage(row pgx.Row) (domain.Passage, error) {
	var p domain.Passage
	var title, url *string
	if err := row.Scan(&p.ID, &p.Content, &p.NormalizedContent, &p.NormalizationVersion, &title, &url, &p.UpdatedAt); err != nil {
		return domain.Passage{}, err
	}
	p.SourceTitle = derefString(title)
	p.SourceURL = derefString(url)
	return p, nil
}

func scanPassageHits(rows pgx.Rows) ([]domain.PassageHit, error) {
	defer rows.Close()

	hits := make([]domain.PassageHit, 0)
	for rows.Next() {
		var h domain.PassageHit
		var title, url *string
		if err := rows.Scan(
			&h.Passage.ID, &h.Passage.Content, &h.Passage.NormalizedContent, &h.Passage.NormalizationVersion,
			&title, &url, &h.Passage.UpdatedAt, &h.Score,
		); err != nil {
			return nil, err
		}
		h.Passage.SourceTitle = derefString(title)
		h.Passage.SourceURL = derefString(url)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
