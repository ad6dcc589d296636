package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

// TokenStream is a finite, non-restartable, pull-based sequence of generated
// text. Recv returns io.EOF once the model has finished.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

type CompletionOptions struct {
	// JSON asks the model for a single JSON object as output.
	JSON bool
}

// ChatModel is the hosted or local language model.
type ChatModel interface {
	Complete(ctx context.Context, messages []domain.Message, opts CompletionOptions) (string, error)
	Stream(ctx context.Context, messages []domain.Message) (TokenStream, error)
}

// Embedder builds dense vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type HybridQuery struct {
	Text        string
	DenseVector []float32
	Filter      *domain.Filter
	Limit       int
}

// VectorStore persists chunks under a dense and a sparse vector space and runs
// hybrid similarity search over them.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string, denseSize int) error
	Upsert(ctx context.Context, collection string, chunks []domain.Chunk, dense [][]float32) error
	HybridSearch(ctx context.Context, collection string, query HybridQuery) ([]domain.Chunk, error)
}

// DocumentConverter turns a source document into plain text.
type DocumentConverter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// SourceStorage holds the source documents of a corpus.
type SourceStorage interface {
	Save(ctx context.Context, name string, data io.Reader) (string, error)
	List(ctx context.Context, folder string) ([]string, error)
}

// IngestionQueue hands single-file ingestion work to background workers.
type IngestionQueue interface {
	PublishIngestion(ctx context.Context, req domain.IngestionRequest) error
	SubscribeIngestion(ctx context.Context, handler func(context.Context, domain.IngestionRequest) error) error
}

// IngestionLedger records the outcome of every ingested source file.
type IngestionLedger interface {
	Save(ctx context.Context, rec domain.IngestionRecord) error
	Get(ctx context.Context, collection, pdfName string) (*domain.IngestionRecord, error)
}

// IngestionObserver receives per-file ingestion measurements.
type IngestionObserver interface {
	StartDocument()
	FinishDocument(duration time.Duration, chunks int, err error)
}
