package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

type retriever interface {
	Retrieve(ctx context.Context, question string, k int) (domain.Retrieval, error)
}

type answerGenerator interface {
	Generate(ctx context.Context, question string, chunks []domain.Chunk) (ports.TokenStream, error)
}

// State is what the workflow accumulates for one question.
type State struct {
	Question        string
	K               int
	Docs            []domain.Chunk
	GeneratedQuery  string
	GeneratedFilter string
	Answer          ports.TokenStream
	Messages        []domain.Message
}

type step struct {
	name string
	run  func(context.Context, *State) error
}

// Workflow runs Start -> Retrieve -> Generate -> Done. Every step up to the
// opening of the answer stream runs inside Run, so those failures are
// returned directly. Tokens are pulled lazily by the caller.
type Workflow struct {
	retriever retriever
	generator answerGenerator
	defaultK  int
	logger    *slog.Logger
}

func NewWorkflow(retriever retriever, generator answerGenerator, defaultK int, logger *slog.Logger) *Workflow {
	if defaultK <= 0 {
		defaultK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{retriever: retriever, generator: generator, defaultK: defaultK, logger: logger}
}

func (w *Workflow) Run(ctx context.Context, question string, k int) (ports.EventStream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run query", errors.New("question is required"))
	}
	if k <= 0 {
		k = w.defaultK
	}

	st := &State{
		Question: question,
		K:        k,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: question}},
	}
	for _, s := range w.steps() {
		if err := s.run(ctx, st); err != nil {
			w.logger.Error("workflow_step_failed", "step", s.name, "question", question, "error", err)
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return &EventStream{state: st, logger: w.logger}, nil
}

func (w *Workflow) steps() []step {
	return []step{
		{name: "retrieve", run: w.retrieve},
		{name: "generate", run: w.generate},
	}
}

func (w *Workflow) retrieve(ctx context.Context, st *State) error {
	result, err := w.retriever.Retrieve(ctx, st.Question, st.K)
	if err != nil {
		return err
	}
	st.Docs = result.Chunks
	st.GeneratedQuery = result.Query.SemanticText
	st.GeneratedFilter = domain.FormatFilter(result.Query.Filter)
	w.logger.Info("query_retrieved",
		"question", st.Question,
		"query", st.GeneratedQuery,
		"filter", st.GeneratedFilter,
		"docs", len(st.Docs),
	)
	return nil
}

func (w *Workflow) generate(ctx context.Context, st *State) error {
	stream, err := w.generator.Generate(ctx, st.Question, st.Docs)
	if err != nil {
		return err
	}
	st.Answer = stream
	return nil
}

type streamPhase int

const (
	phaseDetails streamPhase = iota
	phaseTokens
	phaseSources
	phaseDone
)

// EventStream emits exactly one details event, the answer tokens and exactly
// one sources event, then io.EOF. A token stream failure ends the stream with
// an ErrGeneration error and no sources event.
type EventStream struct {
	mu     sync.Mutex
	state  *State
	phase  streamPhase
	answer strings.Builder
	logger *slog.Logger
}

func (s *EventStream) Recv() (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case phaseDetails:
		s.phase = phaseTokens
		return domain.Event{
			Type: domain.EventDetails,
			Data: domain.QueryDetails{Query: s.state.GeneratedQuery, Filter: s.state.GeneratedFilter},
		}, nil
	case phaseTokens:
		for {
			token, err := s.state.Answer.Recv()
			if errors.Is(err, io.EOF) {
				s.finishAnswer()
				break
			}
			if err != nil {
				s.phase = phaseDone
				_ = s.state.Answer.Close()
				s.logger.Error("answer_stream_failed", "question", s.state.Question, "error", err)
				return domain.Event{}, domain.WrapError(domain.ErrGeneration, "stream answer", err)
			}
			if token == "" {
				continue
			}
			s.answer.WriteString(token)
			return domain.Event{Type: domain.EventToken, Data: token}, nil
		}
		fallthrough
	case phaseSources:
		s.phase = phaseDone
		return domain.Event{Type: domain.EventSources, Data: sourcesOf(s.state.Docs)}, nil
	default:
		return domain.Event{}, io.EOF
	}
}

// Close releases the answer stream. Recv returns io.EOF afterwards.
func (s *EventStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseDone {
		return nil
	}
	s.phase = phaseDone
	return s.state.Answer.Close()
}

// Messages returns the conversation log; the assistant answer is appended
// once the token stream is exhausted.
func (s *EventStream) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.state.Messages))
	copy(out, s.state.Messages)
	return out
}

func (s *EventStream) finishAnswer() {
	s.phase = phaseSources
	_ = s.state.Answer.Close()
	s.state.Messages = append(s.state.Messages, domain.Message{Role: domain.RoleAssistant, Content: s.answer.String()})
	s.logger.Info("answer_generated", "question", s.state.Question, "chars", s.answer.Len(), "sources", len(s.state.Docs))
}

func sourcesOf(chunks []domain.Chunk) []domain.Source {
	out := make([]domain.Source, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, domain.SourceOf(c))
	}
	return out
}
