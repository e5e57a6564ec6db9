package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/telemetry"
)

// Generator produces an answer from an ordered message sequence.
type Generator interface {
	Generate(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// HistoryReader reads the tail of a session.
type HistoryReader interface {
	FetchHistory(ctx context.Context, sessionID string, limit int) ([]domain.SessionTurn, error)
}

// History is a fetched history window with the outcome of the fetch.
type History struct {
	Turns   []domain.SessionTurn
	Outcome EffectOutcome
}

// ConverseInput is one generation request.
type ConverseInput struct {
	SessionID     string
	Query         string
	ContextBlock  string
	HistoryLimit  int
	Persona       string
	NoContextNote string
	// History, when set, is used instead of fetching. The answer pipeline
	// prefetches it concurrently with retrieval.
	History *History
}

// ConversationService builds the message sequence and calls the generator.
type ConversationService struct {
	generator Generator
	history   HistoryReader
	logger    *zap.Logger
}

func NewConversationService(generator Generator, history HistoryReader, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{generator: generator, history: history, logger: logger}
}

// FetchHistory returns up to limit turn pairs, oldest first. Failures are
// logged and yield an empty window; they never fail the request.
func (s *ConversationService) FetchHistory(ctx context.Context, sessionID string, limit int) *History {
	h := &History{Turns: []domain.SessionTurn{}}
	if limit <= 0 || s.history == nil {
		return h
	}

	ctx, span := telemetry.StartSpan(ctx, "conversation.fetch_history", telemetry.SpanAttributes{
		SessionID:  sessionID,
		Dependency: domain.DependencySessionStore,
	})
	defer span.End()

	h.Outcome.Attempted = true
	turns, err := s.history.FetchHistory(ctx, sessionID, limit)
	if err != nil {
		span.SetError(err)
		h.Outcome.Err = err
		s.logger.Warn("history fetch failed, continuing with empty history",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return h
	}
	h.Turns = completePairs(turns, limit)
	return h
}

// completePairs keeps user turns that are directly answered by an assistant
// turn, newest limit pairs only. A user turn whose answer failed to persist
// is dropped so the prompt never carries two user turns in a row.
func completePairs(turns []domain.SessionTurn, limit int) []domain.SessionTurn {
	out := make([]domain.SessionTurn, 0, len(turns))
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].Role == domain.RoleUser && turns[i+1].Role == domain.RoleAssistant {
			out = append(out, turns[i], turns[i+1])
			i++
		}
	}
	if keep := 2 * limit; len(out) > keep {
		out = out[len(out)-keep:]
	}
	return out
}

// Converse generates the raw answer text. The generator error is returned
// as-is and is fatal to the request.
func (s *ConversationService) Converse(ctx context.Context, in ConverseInput) (string, *History, error) {
	history := in.History
	if history == nil {
		history = s.FetchHistory(ctx, in.SessionID, in.HistoryLimit)
	}

	messages := BuildMessages(in.Persona, history.Turns, in.Query, in.ContextBlock, in.NoContextNote)

	ctx, span := telemetry.StartSpan(ctx, "conversation.generate", telemetry.SpanAttributes{
		SessionID:  in.SessionID,
		Dependency: domain.DependencyGeneration,
	})
	defer span.End()

	answer, err := s.generator.Generate(ctx, messages)
	if err != nil {
		span.SetError(err)
		return "", history, err
	}
	return answer, history, nil
}

// BuildMessages lays out the system instruction, the history verbatim, and a
// single trailing user turn carrying both the question and the context.
func BuildMessages(persona string, history []domain.SessionTurn, query, contextBlock, noContextNote string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.ChatRoleSystem, Content: strings.TrimSpace(persona)})
	for _, t := range history {
		messages = append(messages, domain.ChatMessage{Role: string(t.Role), Content: t.Content})
	}

	block := contextBlock
	if strings.TrimSpace(block) == "" {
		block = noContextNote
	}

	var b strings.Builder
	b.WriteString("QUESTION:\n")
	b.WriteString(query)
	b.WriteString("\n\nCONTEXT:\n")
	b.WriteString(block)

	messages = append(messages, domain.ChatMessage{Role: string(domain.RoleUser), Content: b.String()})
	return messages
}
