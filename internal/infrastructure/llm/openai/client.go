package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/resilience"
)

type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	Temperature float64
	Executor    *resilience.Executor
}

// Client serves chat and embeddings from any OpenAI compatible endpoint.
type Client struct {
	api         *goopenai.Client
	chatModel   string
	embedModel  string
	temperature float32
	exec        *resilience.Executor
}

func New(cfg Config) *Client {
	config := goopenai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		api:         goopenai.NewClientWithConfig(config),
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		temperature: float32(cfg.Temperature),
		exec:        cfg.Executor,
	}
}

func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts ports.CompletionOptions) (string, error) {
	req := c.chatRequest(messages)
	if opts.JSON {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := resilience.Call(ctx, c.exec, "openai.chat", func(ctx context.Context) (goopenai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, req)
	}, classifyOpenAIError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) Stream(ctx context.Context, messages []domain.Message) (ports.TokenStream, error) {
	req := c.chatRequest(messages)
	req.Stream = true
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("openai chat stream", err)
	}
	return &chatStream{stream: stream}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := resilience.Call(ctx, c.exec, "openai.embed", func(ctx context.Context) (goopenai.EmbeddingResponse, error) {
		return c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Input: texts,
			Model: goopenai.EmbeddingModel(c.embedModel),
		})
	}, classifyOpenAIError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("openai embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
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

func (c *Client) chatRequest(messages []domain.Message) goopenai.ChatCompletionRequest {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: openAIRole(m.Role), Content: m.Content})
	}
	return goopenai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    out,
		Temperature: c.temperature,
	}
}

func openAIRole(role domain.Role) string {
	switch role {
	case domain.RoleSystem:
		return goopenai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return goopenai.ChatMessageRoleAssistant
	default:
		return goopenai.ChatMessageRoleUser
	}
}

type chatStream struct {
	stream *goopenai.ChatCompletionStream
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", fmt.Errorf("openai chat stream: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		retry := resilience.RetryableHTTPStatus(apiErr.HTTPStatusCode)
		return resilience.ErrorClassification{Retryable: retry, RecordFailure: retry}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		retry := resilience.RetryableHTTPStatus(reqErr.HTTPStatusCode)
		return resilience.ErrorClassification{Retryable: retry, RecordFailure: retry}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ClassifyDomainError(err)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyOpenAIError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
