package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/handoff"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
	"github.com/cloo-solutions/supportdesk/internal/retrieval"
	"github.com/cloo-solutions/supportdesk/internal/telemetry"
)

// Embedder turns normalized text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SessionStore is the durable per-session history.
type SessionStore interface {
	HistoryReader
	Append(ctx context.Context, turn *domain.SessionTurn) error
}

// AnswerLogger persists answer logs and user feedback.
type AnswerLogger interface {
	CreateAnswerLog(ctx context.Context, entry repository.AnswerLogEntry) (string, error)
	RecordFeedback(ctx context.Context, fb repository.AnswerFeedback) error
}

// ProfileProvider hands out the active profile snapshot.
type ProfileProvider interface {
	Current() *profile.Snapshot
}

// EffectOutcome reports a best-effort side effect. Err is never propagated.
type EffectOutcome struct {
	Attempted bool
	Err       error
}

// OK reports whether the effect ran and succeeded.
func (o EffectOutcome) OK() bool {
	return o.Attempted && o.Err == nil
}

// Effects groups the auxiliary outcomes of one Ask call.
type Effects struct {
	HistoryFetch  EffectOutcome
	HistoryAppend EffectOutcome
	AnswerLog     EffectOutcome
}

// AskInput is a validated-at-entry question. Pointer fields are optional.
type AskInput struct {
	Query      string
	SessionID  string
	TopK       *int
	WSemantic  *float64
	WLexical   *float64
	WTrigram   *float64
	MaxHistory *int
}

// AskOutcome is the primary result plus everything the transport may report.
type AskOutcome struct {
	Result          domain.AnswerResult
	Sources         []domain.FusedResult
	AnswerID        string
	NormalizedQuery string
	Decision        handoff.Decision
	Degraded        []retrieval.SignalFailure
	ProfileVersion  string
	Effects         Effects
}

// AnswerService runs the retrieval-and-answer pipeline.
type AnswerService struct {
	embedder      Embedder
	retriever     retrieval.Retriever
	conversation  *ConversationService
	sessions      SessionStore
	answerLogs    AnswerLogger
	profiles      ProfileProvider
	retrievalMode string
	logger        *zap.Logger
	now           func() time.Time
}

// AnswerServiceConfig wires the pipeline collaborators.
type AnswerServiceConfig struct {
	Embedder      Embedder
	Retriever     retrieval.Retriever
	Generator     Generator
	Sessions      SessionStore
	AnswerLogs    AnswerLogger
	Profiles      ProfileProvider
	RetrievalMode string
	Logger        *zap.Logger
	Now           func() time.Time
}

func NewAnswerService(cfg AnswerServiceConfig) *AnswerService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	var history HistoryReader
	if cfg.Sessions != nil {
		history = cfg.Sessions
	}
	return &AnswerService{
		embedder:      cfg.Embedder,
		retriever:     cfg.Retriever,
		conversation:  NewConversationService(cfg.Generator, history, logger),
		sessions:      cfg.Sessions,
		answerLogs:    cfg.AnswerLogs,
		profiles:      cfg.Profiles,
		retrievalMode: cfg.RetrievalMode,
		logger:        logger,
		now:           now,
	}
}

// Ask answers one question. Validation happens before any external call.
// Embedding, retrieval and generation failures are fatal; history and answer
// log failures are reported in Effects only.
func (s *AnswerService) Ask(ctx context.Context, in AskInput) (*AskOutcome, error) {
	started := s.now()
	snap := s.profiles.Current()
	settings := snap.Profile.Retrieval

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, domain.ErrMissingQuery
	}
	if settings.MaxQueryLength > 0 && len([]rune(query)) > settings.MaxQueryLength {
		return nil, domain.ErrQueryTooLong
	}
	weights := settings.ResolveWeights(in.WSemantic, in.WLexical, in.WTrigram)
	if err := domain.ValidateWeights(weights); err != nil {
		return nil, err
	}
	k := settings.ResolveTopK(in.TopK)
	historyLimit := settings.ResolveHistory(in.MaxHistory)

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, span := telemetry.StartSpan(ctx, "answer.ask", telemetry.SpanAttributes{
		SessionID: sessionID,
		Operation: "ask",
	})
	defer span.End()
	span.SetTag("retrieval_mode", s.retrievalMode)
	span.SetTag("profile_version", snap.Version)

	// Input made only of marks or spaces normalizes to nothing.
	normalized := snap.Normalizer.Normalize(query)
	if normalized == "" {
		span.SetError(domain.ErrMissingQuery)
		return nil, domain.ErrMissingQuery
	}

	var (
		history   *History
		retrieved *retrieval.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		history = s.conversation.FetchHistory(gctx, sessionID, historyLimit)
		return nil
	})
	g.Go(func() error {
		vec, err := s.embedder.Embed(gctx, normalized)
		if err != nil {
			return err
		}
		retrieved, err = s.retriever.Retrieve(gctx, retrieval.Request{
			Query:     normalized,
			Embedding: vec,
			Weights:   weights,
			K:         k,
			Settings:  settings,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		span.SetError(err)
		return nil, err
	}

	results := retrieved.Results
	if results == nil {
		results = []domain.FusedResult{}
	}
	contextBlock := AssembleContext(results)

	answer, history, err := s.conversation.Converse(ctx, ConverseInput{
		SessionID:     sessionID,
		Query:         query,
		ContextBlock:  contextBlock,
		HistoryLimit:  historyLimit,
		Persona:       snap.Profile.Persona,
		NoContextNote: snap.Profile.NoContextNote,
		History:       history,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	citations := MapCitations(results, snap.Profile.Citations)
	decision := snap.Classifier.Classify(normalized, answer, len(results))
	span.SetTag("needs_human_help", strconv.FormatBool(decision.NeedsHuman))

	out := &AskOutcome{
		Result: domain.AnswerResult{
			Answer:         answer,
			Citations:      citations,
			NeedsHumanHelp: decision.NeedsHuman,
			SessionID:      sessionID,
		},
		Sources:         results,
		NormalizedQuery: normalized,
		Decision:        decision,
		Degraded:        retrieved.Degraded,
		ProfileVersion:  snap.Version,
	}
	out.Effects.HistoryFetch = history.Outcome
	out.Effects.HistoryAppend = s.appendTurns(ctx, sessionID, query, answer)
	out.AnswerID, out.Effects.AnswerLog = s.logAnswer(ctx, repository.AnswerLogEntry{
		SessionID:       sessionID,
		Query:           query,
		NormalizedQuery: normalized,
		TopK:            k,
		Weights:         weights,
		RetrievalMode:   s.retrievalMode,
		Results:         logResults(results),
		NeedsHumanHelp:  decision.NeedsHuman,
		ProfileVersion:  snap.Version,
		DurationMs:      s.now().Sub(started).Milliseconds(),
	})

	s.logger.Info("answered",
		zap.String("session_id", sessionID),
		zap.Int("k", k),
		zap.Int("results", len(results)),
		zap.Int("degraded_signals", len(retrieved.Degraded)),
		zap.Bool("needs_human_help", decision.NeedsHuman),
		zap.String("query_verdict", string(decision.QueryVerdict)),
		zap.String("answer_verdict", string(decision.AnswerVerdict)),
	)
	return out, nil
}

// appendTurns writes the user/assistant pair. Postgres keeps microseconds, so
// the assistant turn is stamped one microsecond after the truncated user
// timestamp and the pair keeps its order on read.
func (s *AnswerService) appendTurns(ctx context.Context, sessionID, query, answer string) EffectOutcome {
	if s.sessions == nil {
		return EffectOutcome{}
	}
	outcome := EffectOutcome{Attempted: true}

	userAt := s.now().UTC().Truncate(time.Microsecond)
	assistantAt := userAt.Add(time.Microsecond)

	turns := []*domain.SessionTurn{
		domain.NewSessionTurn("", sessionID, domain.RoleUser, query, userAt),
		domain.NewSessionTurn("", sessionID, domain.RoleAssistant, answer, assistantAt),
	}
	for _, t := range turns {
		if err := s.sessions.Append(ctx, t); err != nil {
			outcome.Err = err
			s.logger.Warn("history append failed",
				zap.String("session_id", sessionID),
				zap.String("role", string(t.Role)),
				zap.Error(err),
			)
			break
		}
	}
	return outcome
}

func (s *AnswerService) logAnswer(ctx context.Context, entry repository.AnswerLogEntry) (string, EffectOutcome) {
	if s.answerLogs == nil {
		return "", EffectOutcome{}
	}
	id, err := s.answerLogs.CreateAnswerLog(ctx, entry)
	if err != nil {
		s.logger.Warn("answer log failed", zap.String("session_id", entry.SessionID), zap.Error(err))
		return "", EffectOutcome{Attempted: true, Err: err}
	}
	return id, EffectOutcome{Attempted: true}
}

// RecordFeedback attaches a helpful/unhelpful verdict to a logged answer.
func (s *AnswerService) RecordFeedback(ctx context.Context, answerID string, helpful bool, note string) error {
	answerID = strings.TrimSpace(answerID)
	if answerID == "" {
		return domain.ErrMissingAnswerID
	}
	if _, err := uuid.Parse(answerID); err != nil {
		return domain.ErrAnswerNotFound
	}
	if s.answerLogs == nil {
		return domain.ErrAnswerNotFound
	}
	return s.answerLogs.RecordFeedback(ctx, repository.AnswerFeedback{
		AnswerID: answerID,
		Helpful:  helpful,
		Note:     strings.TrimSpace(note),
	})
}

func logResults(results []domain.FusedResult) []repository.AnswerLogResult {
	out := make([]repository.AnswerLogResult, len(results))
	for i, r := range results {
		out[i] = repository.AnswerLogResult{
			PassageID: r.Passage.ID,
			Score:     r.Score,
			Semantic:  r.SemanticScore,
			Lexical:   r.LexicalScore,
			Trigram:   r.TrigramScore,
		}
	}
	return out
}
