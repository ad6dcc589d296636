package usecase

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

type chatModelFake struct {
	mu        sync.Mutex
	replies   []string
	err       error
	tokens    []string
	streamErr error
	openErr   error
	prompts   [][]domain.Message
	opts      []ports.CompletionOptions
	streamed  [][]domain.Message
}

func (f *chatModelFake) Complete(_ context.Context, messages []domain.Message, opts ports.CompletionOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, messages)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *chatModelFake) Stream(_ context.Context, messages []domain.Message) (ports.TokenStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed = append(f.streamed, messages)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &tokenStreamFake{tokens: append([]string(nil), f.tokens...), err: f.streamErr}, nil
}

type tokenStreamFake struct {
	tokens []string
	err    error
	closed bool
}

func (s *tokenStreamFake) Recv() (string, error) {
	if len(s.tokens) > 0 {
		tok := s.tokens[0]
		s.tokens = s.tokens[1:]
		return tok, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *tokenStreamFake) Close() error {
	s.closed = true
	return nil
}

type embedderFake struct {
	dim     int
	err     error
	queries []string
	batches [][]string
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

// vectorStoreFake keeps points per collection and counts how often a
// collection was actually created.
type vectorStoreFake struct {
	mu        sync.Mutex
	created   map[string]int
	sizes     map[string]int
	points    map[string][]domain.Chunk
	results   []domain.Chunk
	queries   []ports.HybridQuery
	upsertErr error
	searchErr error
}

func newVectorStoreFake() *vectorStoreFake {
	return &vectorStoreFake{
		created: map[string]int{},
		sizes:   map[string]int{},
		points:  map[string][]domain.Chunk{},
	}
}

func (f *vectorStoreFake) EnsureCollection(_ context.Context, collection string, denseSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sizes[collection]; ok {
		return nil
	}
	f.sizes[collection] = denseSize
	f.created[collection]++
	return nil
}

func (f *vectorStoreFake) Upsert(_ context.Context, collection string, chunks []domain.Chunk, _ [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.points[collection] = append(f.points[collection], chunks...)
	return nil
}

func (f *vectorStoreFake) HybridSearch(_ context.Context, _ string, query ports.HybridQuery) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.results) > query.Limit {
		return f.results[:query.Limit], nil
	}
	return f.results, nil
}

type storageFake struct {
	files   []string
	listErr error
	saved   map[string]string
}

func (f *storageFake) Save(_ context.Context, name string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if f.saved == nil {
		f.saved = map[string]string{}
	}
	f.saved[name] = string(body)
	return "sumulas/" + name, nil
}

func (f *storageFake) List(context.Context, string) ([]string, error) {
	return f.files, f.listErr
}

type converterFake struct {
	texts map[string]string
	errs  map[string]error
}

func (f *converterFake) Convert(_ context.Context, path string) (string, error) {
	if err := f.errs[path]; err != nil {
		return "", err
	}
	return f.texts[path], nil
}

type ledgerFake struct {
	records []domain.IngestionRecord
}

func (f *ledgerFake) Save(_ context.Context, rec domain.IngestionRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *ledgerFake) Get(_ context.Context, collection, pdfName string) (*domain.IngestionRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].Collection == collection && f.records[i].PDFName == pdfName {
			rec := f.records[i]
			return &rec, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get record", errors.New("missing"))
}

type queueFake struct {
	published []domain.IngestionRequest
}

func (f *queueFake) PublishIngestion(_ context.Context, req domain.IngestionRequest) error {
	f.published = append(f.published, req)
	return nil
}

func (f *queueFake) SubscribeIngestion(context.Context, func(context.Context, domain.IngestionRequest) error) error {
	return nil
}
