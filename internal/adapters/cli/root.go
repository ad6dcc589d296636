package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kirillkom/sumulas-assistant/internal/config"
	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

// Ingestor is what the ingest command drives.
type Ingestor interface {
	RunIngestion(ctx context.Context, collection, folder string) (domain.IngestionSummary, error)
	Enqueue(ctx context.Context, collection, folder string) (int, error)
}

// Services are built lazily so that --help never dials a backend.
type Services struct {
	Ingestor Ingestor
	Workflow ports.QueryWorkflow
	Close    func()
}

// Loader builds the services for one command run. needQueue is set for
// ingest --enqueue.
type Loader func(ctx context.Context, needQueue bool) (*Services, error)

func NewRootCommand(cfg config.Config, load Loader) *cobra.Command {
	v := viper.New()
	v.SetDefault("collection", cfg.QdrantCollection)
	v.SetDefault("source", cfg.SourceFolder)
	v.SetDefault("k", cfg.RAGTopK)
	_ = v.BindEnv("collection", "QDRANT_COLLECTION")
	_ = v.BindEnv("source", "SOURCE_FOLDER")
	_ = v.BindEnv("k", "RAG_TOP_K")

	root := &cobra.Command{
		Use:           "sumulas",
		Short:         "Ingest súmula documents and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newIngestCommand(v, load), newAskCommand(v, load))
	return root
}

func withServices(ctx context.Context, load Loader, needQueue bool, fn func(*Services) error) error {
	if load == nil {
		return errors.New("services are not configured")
	}
	svc, err := load(ctx, needQueue)
	if err != nil {
		return err
	}
	if svc.Close != nil {
		defer svc.Close()
	}
	return fn(svc)
}
