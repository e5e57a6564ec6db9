package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/supportdesk/internal/domain"
)

const (
	// DefaultEmbeddingModel is the model used for query embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions must match the passages.embedding column
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the model used for answer generation
	DefaultChatModel = openai.GPT4oMini
	// DefaultTemperature keeps answers close to the retrieved passages
	DefaultTemperature = float32(0.2)
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrEmptyCompletion is returned when the generation service returns no choices
	ErrEmptyCompletion = errors.New("no completion choices returned")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// ChatAPI defines the interface for answer generation
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, messages []domain.ChatMessage, temperature float32) (string, error)
}

// Client wraps the embedding and generation services and translates their
// failures into domain errors. It never retries.
type Client struct {
	api         EmbeddingAPI
	chat        ChatAPI
	dimensions  int
	temperature float32
}

// OpenAIAdapter talks to any OpenAI-compatible endpoint
type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	dimensions     int
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      string
	EmbeddingDimensions int
	ChatModel           string
	Temperature         float32
	HTTPClient          *http.Client
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	embeddingModel := openai.EmbeddingModel(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = DefaultChatModel
	}

	return &OpenAIAdapter{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
		dimensions:     cfg.EmbeddingDimensions,
	}
}

// CreateEmbeddings calls the embeddings endpoint
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.embeddingModel,
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if a.embeddingModel == openai.SmallEmbedding3 || a.embeddingModel == openai.LargeEmbedding3 {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CreateChatCompletion sends the message sequence and returns the first choice
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, messages []domain.ChatMessage, temperature float32) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.chatModel,
		Messages:    msgs,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return resp.Choices[0].Message.Content, nil
}

// NewClient creates a new client against the public API using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	cfg.EmbeddingDimensions = dimensions
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	adapter := NewOpenAIAdapter(cfg)
	return &Client{
		api:         adapter,
		chat:        adapter,
		dimensions:  dimensions,
		temperature: temperature,
	}
}

// Embed turns text into a vector of the configured dimension. Any service
// error or malformed payload yields an EMBEDDING_UNAVAILABLE domain error.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, dependencyError(domain.ErrCodeEmbeddingUnavailable, domain.DependencyEmbedding,
			fmt.Errorf("failed to create embedding: %w", err))
	}

	if len(embedding) != c.dimensions {
		return nil, dependencyError(domain.ErrCodeEmbeddingUnavailable, domain.DependencyEmbedding,
			fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(embedding)))
	}

	return embedding, nil
}

// Generate runs one chat completion at the fixed temperature and returns the
// raw answer text.
func (c *Client) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	answer, err := c.chat.CreateChatCompletion(ctx, messages, c.temperature)
	if err != nil {
		return "", dependencyError(domain.ErrCodeGenerationFailed, domain.DependencyGeneration,
			fmt.Errorf("failed to create completion: %w", err))
	}
	return answer, nil
}

// Dimensions reports the expected embedding length.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// dependencyError classifies a collaborator failure. Auth failures are
// reported as configuration errors and deadlines as timeouts so operators can
// tell them apart from transient outages.
func dependencyError(code, dependency string, err error) *domain.DomainError {
	status := StatusCode(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = domain.ErrCodeTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = domain.ErrCodeConfiguration
	}
	return domain.NewDependencyError(code, dependency, status, err)
}

// StatusCode extracts the HTTP status from a go-openai error, 0 if none.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
