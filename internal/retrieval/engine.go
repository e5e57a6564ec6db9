package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
	"github.com/cloo-solutions/supportdesk/internal/telemetry"
)

// Request is one retrieval call. Query must already be normalized.
type Request struct {
	Query     string
	Embedding []float32
	Weights   domain.Weights
	K         int
	Settings  profile.RetrievalSettings
}

// SignalFailure records a signal that could not contribute.
type SignalFailure struct {
	Signal domain.Signal
	Err    error
}

// Result is the fused ranking plus any signals that degraded.
type Result struct {
	Results  []domain.FusedResult
	Degraded []SignalFailure
}

// Retriever produces a fused ranking of at most K passages.
type Retriever interface {
	Retrieve(ctx context.Context, req Request) (*Result, error)
}

// SignalSearcher runs the three independent candidate searches.
type SignalSearcher interface {
	SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]domain.PassageHit, error)
	SearchLexical(ctx context.Context, normalizedQuery string, limit int) ([]domain.PassageHit, error)
	SearchTrigram(ctx context.Context, normalizedQuery string, floor float64, limit int) ([]domain.PassageHit, error)
}

// Engine fuses the three signals in-process.
type Engine struct {
	searcher SignalSearcher
	logger   *zap.Logger
}

func NewEngine(searcher SignalSearcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{searcher: searcher, logger: logger}
}

// Retrieve runs the signals concurrently. A failing signal is dropped and
// reported in Result.Degraded; the call only fails if every signal fails or
// the context ends.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if err := domain.ValidateWeights(req.Weights); err != nil {
		return nil, err
	}
	if req.K <= 0 {
		return &Result{Results: []domain.FusedResult{}}, nil
	}

	limit := req.Settings.CandidateLimit(req.K)

	var (
		hits [3][]domain.PassageHit
		errs [3]error
		g    errgroup.Group
	)

	run := func(i int, signal domain.Signal, fn func(context.Context) ([]domain.PassageHit, error)) {
		g.Go(func() error {
			spanCtx, span := telemetry.StartSpan(ctx, "retrieval."+string(signal), telemetry.SpanAttributes{
				Signal:    string(signal),
				Operation: "search",
			})
			defer span.End()

			h, err := fn(spanCtx)
			if err != nil {
				span.SetError(err)
				errs[i] = err
				return nil
			}
			hits[i] = h
			return nil
		})
	}

	run(0, domain.SignalSemantic, func(ctx context.Context) ([]domain.PassageHit, error) {
		return e.searcher.SearchSemantic(ctx, req.Embedding, limit)
	})
	run(1, domain.SignalLexical, func(ctx context.Context) ([]domain.PassageHit, error) {
		return e.searcher.SearchLexical(ctx, req.Query, limit)
	})
	run(2, domain.SignalTrigram, func(ctx context.Context) ([]domain.PassageHit, error) {
		return e.searcher.SearchTrigram(ctx, req.Query, req.Settings.TrigramFloor, limit)
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	result := &Result{}
	for i, signal := range domain.AllSignals {
		if errs[i] != nil {
			result.Degraded = append(result.Degraded, SignalFailure{Signal: signal, Err: errs[i]})
			e.logger.Warn("retrieval signal failed, continuing without it",
				zap.String("signal", string(signal)),
				zap.Error(errs[i]),
			)
		}
	}
	if len(result.Degraded) == len(domain.AllSignals) {
		return nil, domain.NewDependencyError(domain.ErrCodeRetrievalFailed, domain.DependencyRetrieval, 0,
			errors.Join(errs[0], errs[1], errs[2]))
	}

	result.Results = Fuse(hits[0], hits[1], hits[2], req.Weights, req.K)
	return result, nil
}

// HybridMatcher is the single-call fusion in the database.
type HybridMatcher interface {
	MatchHybrid(ctx context.Context, p repository.HybridParams) ([]domain.FusedResult, error)
}

// BackendRetriever delegates oversampling and fusion to match_passages_hybrid.
type BackendRetriever struct {
	matcher HybridMatcher
}

func NewBackendRetriever(matcher HybridMatcher) *BackendRetriever {
	return &BackendRetriever{matcher: matcher}
}

func (b *BackendRetriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if err := domain.ValidateWeights(req.Weights); err != nil {
		return nil, err
	}
	if req.K <= 0 {
		return &Result{Results: []domain.FusedResult{}}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "retrieval.backend", telemetry.SpanAttributes{
		Dependency: domain.DependencyRetrieval,
		Operation:  "match_passages_hybrid",
	})
	defer span.End()

	results, err := b.matcher.MatchHybrid(ctx, repository.HybridParams{
		Query:         req.Query,
		Embedding:     req.Embedding,
		Weights:       req.Weights,
		K:             req.K,
		Oversample:    req.Settings.Oversample,
		TrigramFloor:  req.Settings.TrigramFloor,
		MinCandidates: req.Settings.MinCandidates,
		MaxCandidates: req.Settings.MaxCandidates,
	})
	if err != nil {
		span.SetError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr)
		}
		return nil, domain.NewDependencyError(domain.ErrCodeRetrievalFailed, domain.DependencyRetrieval, 0, err)
	}

	SortResults(results)
	if len(results) > req.K {
		results = results[:req.K]
	}
	return &Result{Results: results}, nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewDependencyError(domain.ErrCodeTimeout, domain.DependencyRetrieval, 0, err)
	}
	return fmt.Errorf("retrieval cancelled: %w", err)
}
