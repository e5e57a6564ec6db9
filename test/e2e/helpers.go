//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cloo-solutions/supportdesk/internal/api/handlers"
	"github.com/cloo-solutions/supportdesk/internal/config"
	"github.com/cloo-solutions/supportdesk/internal/openai"
	"github.com/cloo-solutions/supportdesk/internal/profile"
	"github.com/cloo-solutions/supportdesk/internal/repository"
	"github.com/cloo-solutions/supportdesk/internal/retrieval"
	"github.com/cloo-solutions/supportdesk/internal/server"
	"github.com/cloo-solutions/supportdesk/internal/service"
	"github.com/cloo-solutions/supportdesk/internal/storage"
	"github.com/cloo-solutions/supportdesk/internal/testutil"
)

const (
	dim          = 1536
	adminToken   = "e2e-admin"
	profileKey   = "profiles/support.toml"
	bucket       = "e2e-profiles"
	noAnswerText = "I could not find that in the knowledge base. I can connect you with a human support agent."
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	ObjectStoreC *testutil.ObjectStoreContainer
	Pool         *pgxpool.Pool
	S3Client     *storage.S3Client
	Profiles     *profile.Store
	LLM          *fakeLLM
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres and an object store, a fake model endpoint and
// the full HTTP stack in the given retrieval mode.
func SetupE2EEnv(t *testing.T, mode string) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	osC := testutil.NewObjectStoreContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        osC.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.ObjectStoreAccessKey,
		SecretAccessKey: testutil.ObjectStoreSecretKey,
		Bucket:          bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	if err := s3Client.PutObject(ctx, profileKey, profile.Default(), "application/toml"); err != nil {
		t.Fatalf("failed to publish profile: %v", err)
	}

	profiles := profile.NewStore(profile.MustDefault(), &profile.S3Source{Client: s3Client, Key: profileKey}, zap.NewNop())
	if _, err := profiles.Reload(ctx); err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}

	llm := newFakeLLM()

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	serverURL, serverCloser := startServer(t, pool, profiles, llm.URL(), mode, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		ObjectStoreC: osC,
		Pool:         pool,
		S3Client:     s3Client,
		Profiles:     profiles,
		LLM:          llm,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.LLM != nil {
		e.LLM.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.ObjectStoreC != nil {
		e.ObjectStoreC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// SeedSupportPassages inserts a small knowledge base. Each passage embeds to
// its own axis so the fake embedder controls semantic similarity.
func (e *E2ETestEnv) SeedSupportPassages() {
	snap := e.Profiles.Current()
	seed := func(id, content, title, url string, hot int) testutil.SeedPassage {
		return testutil.SeedPassage{
			ID:                   id,
			Content:              content,
			NormalizedContent:    snap.Normalizer.Normalize(content),
			NormalizationVersion: snap.Normalizer.Version(),
			Embedding:            testutil.UnitVector(dim, hot),
			SourceTitle:          title,
			SourceURL:            url,
		}
	}

	err := testutil.InsertPassages(e.Ctx, e.Pool,
		seed("p-login", "If the Control 4 app won't log in, sign out, then reset your account password from the web portal.",
			"App login troubleshooting", "https://support.example.com/app-login", 1),
		seed("p-login-2", "Login problems in the Control4 app are often caused by an expired session. Force-close the app and sign in again.",
			"", "", 1),
		seed("p-remote", "To pair the remote, hold the Control 4 button for ten seconds until the light blinks.",
			"Remote pairing", "https://support.example.com/remote", 2),
		seed("p-wifi", "The hub needs a 2.4GHz Wi-Fi network; 5GHz-only networks are not supported.",
			"Hub network requirements", "", 3),
	)
	if err != nil {
		e.T.Fatalf("failed to seed passages: %v", err)
	}
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Dependency string `json:"dependency"`
}

// Do performs a request and decodes a 2xx body into out. Non-2xx responses
// return the status and decoded error body.
func (e *E2ETestEnv) Do(method, path string, body interface{}, token string, out interface{}) (int, *ErrorBody) {
	e.T.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.T.Fatalf("failed to marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, reqBody)
	if err != nil {
		e.T.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		e.T.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.T.Fatalf("failed to read body: %v", err)
	}

	if resp.StatusCode >= 400 {
		var eb ErrorBody
		_ = json.Unmarshal(data, &eb)
		return resp.StatusCode, &eb
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			e.T.Fatalf("failed to decode %s: %v", string(data), err)
		}
	}
	return resp.StatusCode, nil
}

// Data unwraps the {"data": ...} envelope.
type Data[T any] struct {
	Data T `json:"data"`
}

func startServer(t *testing.T, pool *pgxpool.Pool, profiles *profile.Store, llmURL, mode string, port int) (string, func()) {
	logger := zap.NewNop()

	passages := repository.NewPassageRepository(pool)
	sessions := repository.NewSessionRepository(pool)

	var retriever retrieval.Retriever = retrieval.NewEngine(passages, logger)
	if mode == config.RetrievalModeBackend {
		retriever = retrieval.NewBackendRetriever(passages)
	}

	llm := openai.NewClientWithConfig(openai.Config{
		APIKey:  "test-key",
		BaseURL: llmURL,
	})

	answerSvc := service.NewAnswerService(service.AnswerServiceConfig{
		Embedder:      llm,
		Retriever:     retriever,
		Generator:     llm,
		Sessions:      sessions,
		AnswerLogs:    repository.NewAnswerLogRepository(pool),
		Profiles:      profiles,
		RetrievalMode: mode,
		Logger:        logger,
	})

	router := server.NewRouter(server.RouterConfig{
		Logger:         logger,
		AdminToken:     adminToken,
		AnswerHandler:  handlers.NewAnswerHandler(answerSvc, 30*time.Second),
		SessionHandler: handlers.NewSessionHandler(service.NewSessionService(sessions)),
		AdminHandler:   handlers.NewAdminHandler(service.NewAdminService(profiles)),
		Ready: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// fakeLLM speaks just enough of the embeddings and chat completions API.
// Embeddings put all weight on one axis picked by keyword. Chat answers cite
// [#1] when the prompt carries context, reply politely to thanks and give a
// non-answer for anything about thermostats or without context.
type fakeLLM struct {
	srv *httptest.Server

	mu          sync.Mutex
	chats       [][]chatMessage
	embedStatus int
}

func newFakeLLM() *fakeLLM {
	f := &fakeLLM{}
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", f.handleEmbeddings)
	mux.HandleFunc("/chat/completions", f.handleChat)
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeLLM) URL() string { return f.srv.URL }
func (f *fakeLLM) Close()      { f.srv.Close() }

// FailEmbeddings makes the embeddings endpoint answer with status.
func (f *fakeLLM) FailEmbeddings(status int) {
	f.mu.Lock()
	f.embedStatus = status
	f.mu.Unlock()
}

// Chats returns every message list sent to chat completions.
func (f *fakeLLM) Chats() [][]chatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]chatMessage, len(f.chats))
	copy(out, f.chats)
	return out
}

func (f *fakeLLM) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.embedStatus
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
		return
	}

	var req struct {
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	text := req.Input[0]
	hot := 0
	switch {
	case strings.Contains(text, "login"):
		hot = 1
	case strings.Contains(text, "pair") || strings.Contains(text, "remote"):
		hot = 2
	case strings.Contains(text, "wifi"):
		hot = 3
	}

	writeJSON(w, map[string]any{
		"object": "list",
		"model":  "text-embedding-3-small",
		"data": []map[string]any{
			{"object": "embedding", "index": 0, "embedding": testutil.UnitVector(dim, hot)},
		},
	})
}

func (f *fakeLLM) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []chatMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.chats = append(f.chats, req.Messages)
	f.mu.Unlock()

	prompt := req.Messages[len(req.Messages)-1].Content
	answer := noAnswerText
	switch {
	case strings.Contains(strings.ToLower(prompt), "thermostat"):
		// Nothing in the seeded knowledge base covers thermostats.
	case strings.Contains(strings.ToLower(prompt), "thanks"):
		answer = "You're welcome! Let me know if anything else comes up."
	case strings.Contains(prompt, "[#1 |"):
		answer = "Sign out of the app and reset your password from the web portal [#1]. If that fails, force-close the app and sign in again [#2]."
	}

	writeJSON(w, map[string]any{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{
			{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": answer}},
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
