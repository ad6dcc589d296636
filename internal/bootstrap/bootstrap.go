package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/sumulas-assistant/internal/config"
	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/core/usecase"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/extractor/document"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/vector/qdrant"
)

type Options struct {
	Logger   *slog.Logger
	Observer ports.IngestionObserver
	// RequireQueue fails startup when NATS_URL is empty.
	RequireQueue bool
}

// App is the service graph shared by the api, the worker and the CLI.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Ingestion *usecase.IngestionUseCase
	Workflow  *usecase.Workflow
	Queue     ports.IngestionQueue

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	exec := resilience.NewExecutor(resilienceConfig(logger))

	chat, embedder, err := buildModels(ctx, cfg, exec, app)
	if err != nil {
		return nil, err
	}

	store, err := qdrant.New(qdrant.Config{
		Host:     cfg.QdrantHost,
		Port:     cfg.QdrantPort,
		APIKey:   cfg.QdrantAPIKey,
		UseTLS:   cfg.QdrantUseTLS,
		Executor: exec,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	app.closers = append(app.closers, store.Close)

	storage, err := localfs.New(cfg.SourceFolder)
	if err != nil {
		return nil, fmt.Errorf("init source storage: %w", err)
	}

	var ledger ports.IngestionLedger
	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closers = append(app.closers, db.Close)
		repo := postgres.NewIngestionRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		ledger = repo
	}

	if cfg.NATSURL != "" {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: exec,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init ingestion queue: %w", err)
		}
		app.closers = append(app.closers, func() error { queue.Close(); return nil })
		app.Queue = queue
	} else if opts.RequireQueue {
		return nil, domain.WrapError(domain.ErrInvalidInput, "bootstrap", errors.New("NATS_URL is required"))
	}

	app.Ingestion = usecase.NewIngestionUseCase(storage, document.NewConverter(), chat, embedder, store, usecase.IngestionOptions{
		MaxChars:  cfg.ExtractionMaxChars,
		DenseSize: cfg.EmbeddingsDim,
		Ledger:    ledger,
		Queue:     app.Queue,
		Observer:  opts.Observer,
		Logger:    logger,
	})

	translator := usecase.NewQueryTranslator(chat, domain.DefaultMetadataSchema(), logger)
	retriever := usecase.NewRetriever(translator, embedder, store, cfg.QdrantCollection)
	app.Workflow = usecase.NewWorkflow(retriever, usecase.NewAnswerGenerator(chat), cfg.RAGTopK, logger)

	return app, nil
}

func resilienceConfig(logger *slog.Logger) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.BreakerOpenTimeout = 20 * time.Second
	rc.Logger = logger
	return rc
}

// buildModels picks the chat model and the embedder. They may come from
// different providers.
func buildModels(ctx context.Context, cfg config.Config, exec *resilience.Executor, app *App) (ports.ChatModel, ports.Embedder, error) {
	clients := map[string]any{}
	client := func(provider, chatModel, embedModel string) (any, error) {
		key := provider + "|" + chatModel + "|" + embedModel
		if c, ok := clients[key]; ok {
			return c, nil
		}
		var c any
		switch provider {
		case "ollama":
			c = ollama.New(ollama.Config{
				BaseURL:     cfg.OllamaURL,
				ChatModel:   chatModel,
				EmbedModel:  embedModel,
				Temperature: cfg.Temperature,
				Executor:    exec,
			})
		case "openai":
			c = openai.New(openai.Config{
				APIKey:      cfg.OpenAIAPIKey,
				BaseURL:     cfg.OpenAIBaseURL,
				ChatModel:   chatModel,
				EmbedModel:  embedModel,
				Temperature: cfg.Temperature,
				Executor:    exec,
			})
		case "gemini":
			gc, err := gemini.New(ctx, gemini.Config{
				APIKey:      cfg.GoogleAPIKey,
				ChatModel:   chatModel,
				EmbedModel:  embedModel,
				Temperature: cfg.Temperature,
				Executor:    exec,
			})
			if err != nil {
				return nil, err
			}
			app.closers = append(app.closers, gc.Close)
			c = gc
		default:
			return nil, domain.WrapError(domain.ErrInvalidInput, "bootstrap", fmt.Errorf("unknown provider %q", provider))
		}
		clients[key] = c
		return c, nil
	}

	sameProvider := cfg.LLMProvider == cfg.EmbeddingsProvider
	embedForChat := ""
	if sameProvider {
		embedForChat = cfg.EmbeddingsName
	}
	chatClient, err := client(cfg.LLMProvider, cfg.ModelName, embedForChat)
	if err != nil {
		return nil, nil, fmt.Errorf("init chat model: %w", err)
	}
	embedClient := chatClient
	if !sameProvider {
		embedClient, err = client(cfg.EmbeddingsProvider, "", cfg.EmbeddingsName)
		if err != nil {
			return nil, nil, fmt.Errorf("init embedder: %w", err)
		}
	}

	chat, ok := chatClient.(ports.ChatModel)
	if !ok {
		return nil, nil, fmt.Errorf("provider %s has no chat model", cfg.LLMProvider)
	}
	embedder, ok := embedClient.(ports.Embedder)
	if !ok {
		return nil, nil, fmt.Errorf("provider %s has no embedder", cfg.EmbeddingsProvider)
	}
	return chat, embedder, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close_failed", "error", err)
		}
	}
	a.closers = nil
}
