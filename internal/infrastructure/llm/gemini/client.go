package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/resilience"
)

const jsonMIMEType = "application/json"

type Config struct {
	APIKey      string
	ChatModel   string
	EmbedModel  string
	Temperature float64
	Executor    *resilience.Executor
}

// Client serves chat and embeddings from the Gemini API.
type Client struct {
	api         *genai.Client
	chatModel   string
	embedModel  string
	temperature float32
	exec        *resilience.Executor
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "gemini client", errors.New("api key is required"))
	}
	api, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{
		api:         api,
		chatModel:   cfg.ChatModel,
		embedModel:  cfg.EmbedModel,
		temperature: float32(cfg.Temperature),
		exec:        cfg.Executor,
	}, nil
}

func (c *Client) Close() error {
	return c.api.Close()
}

func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts ports.CompletionOptions) (string, error) {
	conv, err := splitConversation(messages)
	if err != nil {
		return "", err
	}
	session := c.session(conv, opts.JSON)

	resp, err := resilience.Call(ctx, c.exec, "gemini.chat", func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return session.SendMessage(ctx, conv.last...)
	}, classifyGeminiError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("gemini chat", err)
	}
	return strings.TrimSpace(responseText(resp)), nil
}

func (c *Client) Stream(ctx context.Context, messages []domain.Message) (ports.TokenStream, error) {
	conv, err := splitConversation(messages)
	if err != nil {
		return nil, err
	}
	iter := c.session(conv, false).SendMessageStream(ctx, conv.last...)
	stream, err := openChatStream(iter.Next)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("gemini chat stream", err)
	}
	return stream, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, genai.TaskTypeRetrievalDocument)
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text}, genai.TaskTypeRetrievalQuery)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string, task genai.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.api.EmbeddingModel(c.embedModel)
	model.TaskType = task
	batch := model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := resilience.Call(ctx, c.exec, "gemini.embed", func(ctx context.Context) (*genai.BatchEmbedContentsResponse, error) {
		return model.BatchEmbedContents(ctx, batch)
	}, classifyGeminiError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("gemini embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "gemini embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings)))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// session builds a fresh model per call; GenerativeModel carries mutable
// settings and is not shared between requests.
func (c *Client) session(conv conversation, asJSON bool) *genai.ChatSession {
	model := c.api.GenerativeModel(c.chatModel)
	model.SetTemperature(c.temperature)
	if conv.system != nil {
		model.SystemInstruction = conv.system
	}
	if asJSON {
		model.ResponseMIMEType = jsonMIMEType
	}
	session := model.StartChat()
	session.History = conv.history
	return session
}

type conversation struct {
	system  *genai.Content
	history []*genai.Content
	last    []genai.Part
}

// splitConversation maps system messages to the system instruction and sends
// the final user turn on top of the earlier history.
func splitConversation(messages []domain.Message) (conversation, error) {
	var conv conversation
	var system []string
	var turns []domain.Message
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != domain.RoleUser {
		return conversation{}, domain.WrapError(domain.ErrInvalidInput, "gemini chat", errors.New("conversation must end with a user message"))
	}

	if len(system) > 0 {
		conv.system = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		conv.history = append(conv.history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	conv.last = []genai.Part{genai.Text(turns[len(turns)-1].Content)}
	return conv, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	return b.String()
}

// chatStream buffers the first non-empty response. The request is only sent
// on the first Next call, so opening the stream pulls it to surface auth and
// quota errors before any token is handed out.
type chatStream struct {
	next    func() (*genai.GenerateContentResponse, error)
	pending string
	done    bool
}

func openChatStream(next func() (*genai.GenerateContentResponse, error)) (*chatStream, error) {
	s := &chatStream{next: next}
	for {
		resp, err := next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			return s, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gemini chat stream: %w", err)
		}
		if text := responseText(resp); text != "" {
			s.pending = text
			return s, nil
		}
	}
}

func (s *chatStream) Recv() (string, error) {
	if s.pending != "" {
		text := s.pending
		s.pending = ""
		return text, nil
	}
	for !s.done {
		resp, err := s.next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			break
		}
		if err != nil {
			s.done = true
			return "", fmt.Errorf("gemini chat stream: %w", err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

// Close marks the stream finished. The iterator owns no connection once the
// request context ends.
func (s *chatStream) Close() error {
	s.done = true
	s.pending = ""
	return nil
}

func classifyGeminiError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyDomainError(err)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyGeminiError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
