// Package genai provides the OpenAI client used by the evaluation pipeline.
//
// It exposes deterministic chat completions (zero temperature, zero top-p,
// explicit seed, JSON-only responses) for the classifier stage and text
// embeddings for semantic behavior detection, both behind ClientInterface
// so components can be tested with fakes.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Default model selections. Overridable via options.
const (
	DefaultChatModel      = openai.ChatModelGPT4oMini
	DefaultEmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
)

// ClientInterface defines the GenAI operations the pipeline depends on.
type ClientInterface interface {
	// GenerateDeterministic requests a chat completion with temperature 0,
	// top-p 0, the given seed, and JSON-object response format, so identical
	// inputs are expected to reproduce identical outputs.
	GenerateDeterministic(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, seed int64) (string, error)
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey         string
	ChatModel      openai.ChatModel
	EmbeddingModel openai.EmbeddingModel
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithChatModel overrides the chat completion model.
func WithChatModel(model openai.ChatModel) Option {
	return func(o *Opts) { o.ChatModel = model }
}

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model openai.EmbeddingModel) Option {
	return func(o *Opts) { o.EmbeddingModel = model }
}

// Client wraps the OpenAI API for deterministic generation and embeddings.
type Client struct {
	client         openai.Client
	chatModel      openai.ChatModel
	embeddingModel openai.EmbeddingModel
}

// NewClient initializes a GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not set via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	slog.Debug("genai.NewClient: creating client", "chat_model", cfg.ChatModel, "embedding_model", cfg.EmbeddingModel)
	return &Client{
		client:         openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// GenerateDeterministic requests a zero-temperature, zero-top-p, seeded,
// JSON-only chat completion and returns the raw message content.
func (c *Client) GenerateDeterministic(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, seed int64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: openai.Float(0),
		TopP:        openai.Float(0),
		Seed:        openai.Int(seed),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	slog.Debug("genai.GenerateDeterministic: completion received", "seed", seed, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}
	return resp.Data[0].Embedding, nil
}
