package ports

import (
	"context"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

// EventStream delivers the events of one query in order. Recv returns io.EOF
// after the sources event.
type EventStream interface {
	Recv() (domain.Event, error)
	Close() error
}

// QueryWorkflow is the inbound contract for streamed question answering.
type QueryWorkflow interface {
	Run(ctx context.Context, question string, k int) (EventStream, error)
}

// Ingestor is the inbound contract for corpus ingestion.
type Ingestor interface {
	RunIngestion(ctx context.Context, collection, folder string) (domain.IngestionSummary, error)
	IngestFile(ctx context.Context, collection, path string) (int, error)
}
