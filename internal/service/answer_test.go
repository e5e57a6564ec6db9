package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/handoff"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
	"github.com/cloo-solutions/supportdesk/internal/retrieval"
)

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Result), args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) FetchHistory(ctx context.Context, sessionID string, limit int) ([]domain.SessionTurn, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SessionTurn), args.Error(1)
}

func (m *MockSessionStore) Append(ctx context.Context, turn *domain.SessionTurn) error {
	args := m.Called(ctx, turn)
	return args.Error(0)
}

type MockAnswerLogger struct {
	mock.Mock
}

func (m *MockAnswerLogger) CreateAnswerLog(ctx context.Context, entry repository.AnswerLogEntry) (string, error) {
	args := m.Called(ctx, entry)
	return args.String(0), args.Error(1)
}

func (m *MockAnswerLogger) RecordFeedback(ctx context.Context, fb repository.AnswerFeedback) error {
	args := m.Called(ctx, fb)
	return args.Error(0)
}

type staticProfile struct {
	snap *profile.Snapshot
}

func (s staticProfile) Current() *profile.Snapshot { return s.snap }

type pipelineMocks struct {
	embedder  *MockEmbedder
	retriever *MockRetriever
	generator *MockGenerator
	sessions  *MockSessionStore
	logs      *MockAnswerLogger
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestAnswerService(t *testing.T) (*AnswerService, *pipelineMocks) {
	t.Helper()
	m := &pipelineMocks{
		embedder:  new(MockEmbedder),
		retriever: new(MockRetriever),
		generator: new(MockGenerator),
		sessions:  new(MockSessionStore),
		logs:      new(MockAnswerLogger),
	}
	svc := NewAnswerService(AnswerServiceConfig{
		Embedder:      m.embedder,
		Retriever:     m.retriever,
		Generator:     m.generator,
		Sessions:      m.sessions,
		AnswerLogs:    m.logs,
		Profiles:      staticProfile{snap: profile.MustDefault()},
		RetrievalMode: "pipeline",
		Now:           func() time.Time { return fixedNow },
	})
	return svc, m
}

func passage(id, content, title, url string) domain.Passage {
	return domain.Passage{ID: id, Content: content, SourceTitle: title, SourceURL: url, UpdatedAt: fixedNow}
}

func TestAnswerService_Ask_Control4Scenario(t *testing.T) {
	svc, m := newTestAnswerService(t)
	ctx := context.Background()
	vec := []float32{0.1, 0.2}

	results := []domain.FusedResult{
		{Passage: passage("kb-12", "Reset the Control4 app credentials from Settings.", "Control4 login", "https://kb.example/12"), Score: 0.81},
		{Passage: passage("kb-40", "Make sure the controller firmware is current.", "", ""), Score: 0.52},
	}

	m.embedder.On("Embed", mock.Anything, "control4 app cannot login").Return(vec, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.MatchedBy(func(r retrieval.Request) bool {
		return r.Query == "control4 app cannot login" && r.K == 10 && r.Weights == domain.DefaultWeights()
	})).Return(&retrieval.Result{Results: results}, nil)
	m.sessions.On("FetchHistory", mock.Anything, "s-1", 4).Return([]domain.SessionTurn{}, nil)
	m.generator.On("Generate", mock.Anything, mock.Anything).
		Return("Sign out and reset the app credentials [#1]. Then update the controller firmware [#2].", nil)
	m.sessions.On("Append", mock.Anything, mock.Anything).Return(nil)
	m.logs.On("CreateAnswerLog", mock.Anything, mock.Anything).Return("0b7f0c1e-7f0a-4d4b-9a0e-2b8c8c3c1a11", nil)

	out, err := svc.Ask(ctx, AskInput{Query: "Control 4 app won't login", SessionID: "s-1"})
	require.NoError(t, err)

	assert.Equal(t, "control4 app cannot login", out.NormalizedQuery)
	assert.Equal(t, "s-1", out.Result.SessionID)
	assert.False(t, out.Result.NeedsHumanHelp)
	assert.Equal(t, handoff.VerdictTechnical, out.Decision.QueryVerdict)
	assert.Equal(t, "0b7f0c1e-7f0a-4d4b-9a0e-2b8c8c3c1a11", out.AnswerID)

	require.Len(t, out.Result.Citations, 2)
	assert.Equal(t, 1, out.Result.Citations[0].Index)
	assert.Equal(t, "Control4 login", out.Result.Citations[0].Title)
	assert.Equal(t, 2, out.Result.Citations[1].Index)
	assert.Equal(t, "Knowledge base article", out.Result.Citations[1].Title)
	assert.Equal(t, "#", out.Result.Citations[1].URL)
	assert.Equal(t, results, out.Sources)

	msgs := m.generator.Calls[0].Arguments.Get(1).([]domain.ChatMessage)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.ChatRoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "QUESTION:\nControl 4 app won't login")
	assert.Contains(t, msgs[1].Content, "[#1 | score=0.810]\nReset the Control4 app")
	assert.Contains(t, msgs[1].Content, "[#2 | score=0.520]")

	assert.True(t, out.Effects.HistoryFetch.OK())
	assert.True(t, out.Effects.HistoryAppend.OK())
	assert.True(t, out.Effects.AnswerLog.OK())
	m.sessions.AssertNumberOfCalls(t, "Append", 2)
}

func TestAnswerService_Ask_AppendsOrderedPair(t *testing.T) {
	svc, m := newTestAnswerService(t)

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(&retrieval.Result{}, nil)
	m.sessions.On("FetchHistory", mock.Anything, "s-2", 4).Return([]domain.SessionTurn{}, nil)
	m.generator.On("Generate", mock.Anything, mock.Anything).Return("Hello!", nil)
	m.sessions.On("Append", mock.Anything, mock.Anything).Return(nil)
	m.logs.On("CreateAnswerLog", mock.Anything, mock.Anything).Return("", errors.New("db down"))

	out, err := svc.Ask(context.Background(), AskInput{Query: "hi there", SessionID: "s-2"})
	require.NoError(t, err)

	user := m.sessions.Calls[1].Arguments.Get(1).(*domain.SessionTurn)
	assistant := m.sessions.Calls[2].Arguments.Get(1).(*domain.SessionTurn)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.Equal(t, "hi there", user.Content)
	assert.Equal(t, domain.RoleAssistant, assistant.Role)
	assert.Equal(t, "Hello!", assistant.Content)
	assert.True(t, assistant.Timestamp.After(user.Timestamp))

	assert.Empty(t, out.AnswerID)
	assert.Error(t, out.Effects.AnswerLog.Err)
}

func TestAnswerService_AppendTurns_RealClockKeepsPairOrder(t *testing.T) {
	store := new(MockSessionStore)
	store.On("Append", mock.Anything, mock.Anything).Return(nil)
	svc := NewAnswerService(AnswerServiceConfig{Sessions: store, Profiles: staticProfile{snap: profile.MustDefault()}})

	const runs = 200
	for i := 0; i < runs; i++ {
		outcome := svc.appendTurns(context.Background(), "s-clock", "q", "a")
		require.True(t, outcome.OK())
	}

	require.Len(t, store.Calls, 2*runs)
	for i := 0; i < runs; i++ {
		user := store.Calls[2*i].Arguments.Get(1).(*domain.SessionTurn)
		assistant := store.Calls[2*i+1].Arguments.Get(1).(*domain.SessionTurn)

		userMicros := user.Timestamp.Truncate(time.Microsecond)
		assistantMicros := assistant.Timestamp.Truncate(time.Microsecond)
		assert.True(t, user.Timestamp.Equal(userMicros), "user timestamp has sub-microsecond precision")
		assert.True(t, assistantMicros.After(userMicros), "run %d: pair collides at microsecond precision", i)
	}
}

func TestAnswerService_Ask_HandoffSeparation(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		answer    string
		wantHuman bool
		verdict   handoff.Verdict
	}{
		{"greeting with no candidates", "hi there", "Hi! How can I help?", false, handoff.VerdictSocial},
		{"thanks with no candidates", "thanks!", "You're welcome!", false, handoff.VerdictSocial},
		{"technical with no candidates", "my remote won't pair", "Let me look into that.", true, handoff.VerdictTechnical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestAnswerService(t)
			m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
			m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(&retrieval.Result{Results: []domain.FusedResult{}}, nil)
			m.sessions.On("FetchHistory", mock.Anything, mock.Anything, mock.Anything).Return([]domain.SessionTurn{}, nil)
			m.generator.On("Generate", mock.Anything, mock.Anything).Return(tt.answer, nil)
			m.sessions.On("Append", mock.Anything, mock.Anything).Return(nil)
			m.logs.On("CreateAnswerLog", mock.Anything, mock.Anything).Return("", nil)

			out, err := svc.Ask(context.Background(), AskInput{Query: tt.query})
			require.NoError(t, err)
			assert.Equal(t, tt.wantHuman, out.Result.NeedsHumanHelp)
			assert.Equal(t, tt.verdict, out.Decision.QueryVerdict)
			assert.Empty(t, out.Result.Citations)
			assert.NotNil(t, out.Result.Citations)

			msgs := m.generator.Calls[0].Arguments.Get(1).([]domain.ChatMessage)
			assert.Contains(t, msgs[len(msgs)-1].Content, "(no passages matched this question)")
		})
	}
}

func TestAnswerService_Ask_HistoryFailureIsNotFatal(t *testing.T) {
	svc, m := newTestAnswerService(t)

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(&retrieval.Result{}, nil)
	m.sessions.On("FetchHistory", mock.Anything, "s-3", 4).Return(nil, errors.New("connection refused"))
	m.generator.On("Generate", mock.Anything, mock.Anything).Return("Try restarting the controller.", nil)
	m.sessions.On("Append", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	m.logs.On("CreateAnswerLog", mock.Anything, mock.Anything).Return("", nil)

	out, err := svc.Ask(context.Background(), AskInput{Query: "controller is offline", SessionID: "s-3"})
	require.NoError(t, err)
	assert.Equal(t, "Try restarting the controller.", out.Result.Answer)

	assert.True(t, out.Effects.HistoryFetch.Attempted)
	assert.Error(t, out.Effects.HistoryFetch.Err)
	assert.True(t, out.Effects.HistoryAppend.Attempted)
	assert.Error(t, out.Effects.HistoryAppend.Err)

	msgs := m.generator.Calls[0].Arguments.Get(1).([]domain.ChatMessage)
	assert.Len(t, msgs, 2)
	m.sessions.AssertNumberOfCalls(t, "Append", 1)
}

func TestAnswerService_Ask_HistoryIsPassedVerbatim(t *testing.T) {
	svc, m := newTestAnswerService(t)
	history := []domain.SessionTurn{
		{Role: domain.RoleUser, Content: "my lights flicker"},
		{Role: domain.RoleAssistant, Content: "Which dimmer model? [#1]"},
	}

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(&retrieval.Result{}, nil)
	m.sessions.On("FetchHistory", mock.Anything, "s-4", 1).Return(history, nil)
	m.generator.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)
	m.sessions.On("Append", mock.Anything, mock.Anything).Return(nil)
	m.logs.On("CreateAnswerLog", mock.Anything, mock.Anything).Return("", nil)

	one := 1
	_, err := svc.Ask(context.Background(), AskInput{Query: "the older one", SessionID: "s-4", MaxHistory: &one})
	require.NoError(t, err)

	msgs := m.generator.Calls[0].Arguments.Get(1).([]domain.ChatMessage)
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.ChatMessage{Role: "user", Content: "my lights flicker"}, msgs[1])
	assert.Equal(t, domain.ChatMessage{Role: "assistant", Content: "Which dimmer model? [#1]"}, msgs[2])
	assert.Equal(t, "user", msgs[3].Role)
}

func TestAnswerService_Ask_GeneratesSessionID(t *testing.T) {
	svc, m := newTestAnswerService(t)

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(&retrieval.Result{}, nil)
	m.sessions.On("FetchHistory", mock.Anything, mock.Anything, mock.Anything).Return([]domain.SessionTurn{}, nil)
	m.generator.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)
	m.sessions.On("Append", mock.Anything, mock.Anything).Return(nil)
	m.logs.On("CreateAnswerLog", mock.Anything, mock.Anything).Return("", nil)

	out, err := svc.Ask(context.Background(), AskInput{Query: "where is the reset button"})
	require.NoError(t, err)
	_, parseErr := uuid.Parse(out.Result.SessionID)
	assert.NoError(t, parseErr)
}

func TestAnswerService_Ask_ValidationBeforeExternalCalls(t *testing.T) {
	neg := -0.5
	zero := 0.0
	tests := []struct {
		name string
		in   AskInput
		want error
	}{
		{"empty query", AskInput{Query: "   "}, domain.ErrMissingQuery},
		{"marks only", AskInput{Query: "\u0301\u0308"}, domain.ErrMissingQuery},
		{"unicode spaces only", AskInput{Query: "\u00a0\u3000"}, domain.ErrMissingQuery},
		{"negative weight", AskInput{Query: "q", WSemantic: &neg}, domain.ErrInvalidWeights},
		{"all zero weights", AskInput{Query: "q", WSemantic: &zero, WLexical: &zero, WTrigram: &zero}, domain.ErrInvalidWeights},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestAnswerService(t)
			_, err := svc.Ask(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
			m.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
			m.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			m.sessions.AssertNotCalled(t, "FetchHistory", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAnswerService_Ask_QueryTooLong(t *testing.T) {
	svc, m := newTestAnswerService(t)
	long := make([]rune, 2001)
	for i := range long {
		long[i] = 'a'
	}
	_, err := svc.Ask(context.Background(), AskInput{Query: string(long)})
	assert.ErrorIs(t, err, domain.ErrQueryTooLong)
	m.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestAnswerService_Ask_EmbeddingFailureIsFatal(t *testing.T) {
	svc, m := newTestAnswerService(t)
	embedErr := domain.NewDependencyError(domain.ErrCodeEmbeddingUnavailable, domain.DependencyEmbedding, 503, errors.New("upstream"))

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return(nil, embedErr)
	m.sessions.On("FetchHistory", mock.Anything, mock.Anything, mock.Anything).Return([]domain.SessionTurn{}, nil)

	_, err := svc.Ask(context.Background(), AskInput{Query: "hub won't boot"})
	require.Error(t, err)
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrCodeEmbeddingUnavailable, de.Code)
	assert.Equal(t, 503, de.UpstreamStatus)
	m.retriever.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
	m.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	m.sessions.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestAnswerService_Ask_GenerationFailureIsFatal(t *testing.T) {
	svc, m := newTestAnswerService(t)
	genErr := domain.NewDependencyError(domain.ErrCodeGenerationFailed, domain.DependencyGeneration, 500, errors.New("boom"))

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(&retrieval.Result{}, nil)
	m.sessions.On("FetchHistory", mock.Anything, mock.Anything, mock.Anything).Return([]domain.SessionTurn{}, nil)
	m.generator.On("Generate", mock.Anything, mock.Anything).Return("", genErr)

	_, err := svc.Ask(context.Background(), AskInput{Query: "hub won't boot"})
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	m.sessions.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	m.logs.AssertNotCalled(t, "CreateAnswerLog", mock.Anything, mock.Anything)
}

func TestAnswerService_Ask_RetrievalFailureIsFatal(t *testing.T) {
	svc, m := newTestAnswerService(t)
	retErr := domain.NewDependencyError(domain.ErrCodeRetrievalFailed, domain.DependencyRetrieval, 0, errors.New("pool closed"))

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(nil, retErr)
	m.sessions.On("FetchHistory", mock.Anything, mock.Anything, mock.Anything).Return([]domain.SessionTurn{}, nil)

	_, err := svc.Ask(context.Background(), AskInput{Query: "hub won't boot"})
	assert.ErrorIs(t, err, domain.ErrRetrievalFailed)
	m.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestAnswerService_Ask_ReportsDegradedSignals(t *testing.T) {
	svc, m := newTestAnswerService(t)
	degraded := []retrieval.SignalFailure{{Signal: domain.SignalTrigram, Err: errors.New("timeout")}}

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.Anything).Return(&retrieval.Result{
		Results:  []domain.FusedResult{{Passage: passage("a", "text", "t", "u"), Score: 0.4}},
		Degraded: degraded,
	}, nil)
	m.sessions.On("FetchHistory", mock.Anything, mock.Anything, mock.Anything).Return([]domain.SessionTurn{}, nil)
	m.generator.On("Generate", mock.Anything, mock.Anything).Return("see [#1]", nil)
	m.sessions.On("Append", mock.Anything, mock.Anything).Return(nil)
	m.logs.On("CreateAnswerLog", mock.Anything, mock.Anything).Return("", nil)

	out, err := svc.Ask(context.Background(), AskInput{Query: "zigbee pairing"})
	require.NoError(t, err)
	assert.Equal(t, degraded, out.Degraded)
	assert.Len(t, out.Result.Citations, 1)
}

func TestAnswerService_Ask_LogsResolvedParameters(t *testing.T) {
	svc, m := newTestAnswerService(t)
	k := 99
	lex := 0.9

	m.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	m.retriever.On("Retrieve", mock.Anything, mock.MatchedBy(func(r retrieval.Request) bool {
		return r.K == 25 && r.Weights.Lexical == 0.9
	})).Return(&retrieval.Result{}, nil)
	m.sessions.On("FetchHistory", mock.Anything, mock.Anything, mock.Anything).Return([]domain.SessionTurn{}, nil)
	m.generator.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)
	m.sessions.On("Append", mock.Anything, mock.Anything).Return(nil)
	m.logs.On("CreateAnswerLog", mock.Anything, mock.MatchedBy(func(e repository.AnswerLogEntry) bool {
		return e.TopK == 25 && e.Weights.Lexical == 0.9 && e.RetrievalMode == "pipeline" && e.ProfileVersion != ""
	})).Return("id", nil)

	_, err := svc.Ask(context.Background(), AskInput{Query: "dimmer buzzing", TopK: &k, WLexical: &lex})
	require.NoError(t, err)
	m.logs.AssertExpectations(t)
}

func TestAnswerService_RecordFeedback(t *testing.T) {
	svc, m := newTestAnswerService(t)
	id := "0b7f0c1e-7f0a-4d4b-9a0e-2b8c8c3c1a11"

	m.logs.On("RecordFeedback", mock.Anything, repository.AnswerFeedback{AnswerID: id, Helpful: true, Note: "fixed it"}).Return(nil)

	require.NoError(t, svc.RecordFeedback(context.Background(), id, true, " fixed it "))
	assert.ErrorIs(t, svc.RecordFeedback(context.Background(), "", true, ""), domain.ErrMissingAnswerID)
	assert.ErrorIs(t, svc.RecordFeedback(context.Background(), "not-a-uuid", true, ""), domain.ErrAnswerNotFound)
	m.logs.AssertNumberOfCalls(t, "RecordFeedback", 1)
}
