package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Temperature float64
	// Timeout bounds a whole non-streaming call. Streaming calls only wait
	// this long for the response headers and then run until ctx is done.
	Timeout     time.Duration
	Executor    *resilience.Executor
}

// Client talks to the Ollama REST API. It serves as chat model and embedder.
type Client struct {
	baseURL     string
	chatModel   string
	embedModel  string
	temperature float64
	httpClient  *http.Client
	streamHTTP  *http.Client
	exec        *resilience.Executor
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		streamHTTP:  &http.Client{Transport: streamTransport(cfg.Timeout)},
		exec:        cfg.Executor,
	}
}

func streamTransport(headerTimeout time.Duration) http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = headerTimeout
	return t
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts ports.CompletionOptions) (string, error) {
	req := c.chatRequest(messages, false)
	if opts.JSON {
		req.Format = "json"
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/api/chat", req, &resp, "chat"); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", resp.Error)
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// Stream opens a streaming chat. The open itself is not retried: a partially
// consumed answer cannot be replayed.
func (c *Client) Stream(ctx context.Context, messages []domain.Message) (ports.TokenStream, error) {
	body, err := c.openStream(ctx, "/api/chat", c.chatRequest(messages, true), "chat_stream")
	if err != nil {
		return nil, err
	}
	return newChatStream(body), nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ollama embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(response.Embeddings)))
	}
	return response.Embeddings, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

func (c *Client) chatRequest(messages []domain.Message, stream bool) chatRequest {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{
		Model:    c.chatModel,
		Messages: out,
		Stream:   stream,
		Options:  map[string]any{"temperature": c.temperature},
	}
}
