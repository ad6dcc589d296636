package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

const (
	defaultMaxExtractionChars = 12000
	dimensionProbeText        = "súmula"
)

type IngestionOptions struct {
	// MaxChars caps the converted text handed to the extraction model.
	MaxChars int
	// DenseSize is the embedding dimension. Zero probes the embedder once.
	DenseSize int
	Ledger    ports.IngestionLedger
	Queue     ports.IngestionQueue
	Observer  ports.IngestionObserver
	Logger    *slog.Logger
}

type IngestionUseCase struct {
	storage   ports.SourceStorage
	converter ports.DocumentConverter
	model     ports.ChatModel
	embedder  ports.Embedder
	vectors   ports.VectorStore
	ledger    ports.IngestionLedger
	queue     ports.IngestionQueue
	observer  ports.IngestionObserver
	schema    domain.MetadataSchema
	maxChars  int
	logger    *slog.Logger

	sizeMu    sync.Mutex
	denseSize int
}

func NewIngestionUseCase(
	storage ports.SourceStorage,
	converter ports.DocumentConverter,
	model ports.ChatModel,
	embedder ports.Embedder,
	vectors ports.VectorStore,
	opts IngestionOptions,
) *IngestionUseCase {
	if opts.MaxChars <= 0 {
		opts.MaxChars = defaultMaxExtractionChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &IngestionUseCase{
		storage:   storage,
		converter: converter,
		model:     model,
		embedder:  embedder,
		vectors:   vectors,
		ledger:    opts.Ledger,
		queue:     opts.Queue,
		observer:  opts.Observer,
		schema:    domain.DefaultMetadataSchema(),
		maxChars:  opts.MaxChars,
		logger:    opts.Logger,
		denseSize: opts.DenseSize,
	}
}

// RunIngestion ingests every supported file under folder. A failing file is
// logged and skipped; the run only fails when the collection cannot be
// prepared or the folder cannot be listed.
func (uc *IngestionUseCase) RunIngestion(ctx context.Context, collection, folder string) (domain.IngestionSummary, error) {
	var summary domain.IngestionSummary
	if err := uc.EnsureCollection(ctx, collection); err != nil {
		return summary, err
	}

	files, err := uc.storage.List(ctx, folder)
	if err != nil {
		return summary, fmt.Errorf("list source folder: %w", err)
	}
	summary.Files = len(files)
	if len(files) == 0 {
		uc.logger.Warn("Nenhum documento encontrado na pasta.", "folder", folder)
		return summary, nil
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		n, err := uc.IngestFile(ctx, collection, path)
		if err != nil {
			summary.Skipped++
			uc.logger.Error("ingest_file_failed", "collection", collection, "file", filepath.Base(path), "error", err)
			continue
		}
		summary.Processed++
		summary.Chunks += n
	}

	uc.logger.Info(
		fmt.Sprintf("%d PDFs processados. %d chunks inseridos.", summary.Processed, summary.Chunks),
		"collection", collection,
		"files", summary.Files,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// IngestFile runs the full pipeline for one file and returns the number of
// chunks written.
func (uc *IngestionUseCase) IngestFile(ctx context.Context, collection, path string) (int, error) {
	name := filepath.Base(path)
	started := time.Now()
	if uc.observer != nil {
		uc.observer.StartDocument()
	}
	uc.record(ctx, domain.IngestionRecord{PDFName: name, Collection: collection, Status: domain.IngestionProcessing})

	chunks, err := uc.pipeline(ctx, collection, path, name)

	if uc.observer != nil {
		uc.observer.FinishDocument(time.Since(started), len(chunks), err)
	}
	rec := domain.IngestionRecord{PDFName: name, Collection: collection, Chunks: len(chunks), Status: domain.IngestionDone}
	if len(chunks) > 0 {
		rec.NumSumula = chunks[0].Metadata.NumSumula
		rec.StatusAtual = chunks[0].Metadata.StatusAtual
	}
	if err != nil {
		rec.Chunks = 0
		rec.Status = domain.IngestionFailed
		rec.Error = err.Error()
		uc.record(ctx, rec)
		return 0, err
	}
	uc.record(ctx, rec)

	uc.logger.Info("file_ingested", "collection", collection, "file", name, "chunks", len(chunks))
	return len(chunks), nil
}

// EnsureCollection creates the collection when it is missing. Repeated calls
// are no-ops.
func (uc *IngestionUseCase) EnsureCollection(ctx context.Context, collection string) error {
	size, err := uc.denseDimension(ctx)
	if err != nil {
		return err
	}
	if err := uc.vectors.EnsureCollection(ctx, collection, size); err != nil {
		return fmt.Errorf("ensure collection %s: %w", collection, err)
	}
	return nil
}

// Submit stores an uploaded file in the source folder and queues it for a
// background worker.
func (uc *IngestionUseCase) Submit(ctx context.Context, collection, filename string, body io.Reader) (*domain.IngestionRecord, error) {
	if uc.queue == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", errors.New("ingestion queue is not configured"))
	}
	name := sanitizeFilename(filename)
	if !supportedSource(name) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "submit document", fmt.Errorf("unsupported file type %q", filepath.Ext(name)))
	}

	path, err := uc.storage.Save(ctx, name, body)
	if err != nil {
		return nil, fmt.Errorf("save source file: %w", err)
	}

	rec := domain.IngestionRecord{
		PDFName:    name,
		Collection: collection,
		Status:     domain.IngestionQueued,
		UpdatedAt:  time.Now().UTC(),
	}
	uc.record(ctx, rec)

	if err := uc.queue.PublishIngestion(ctx, domain.IngestionRequest{Collection: collection, Path: path}); err != nil {
		return nil, fmt.Errorf("publish ingestion request: %w", err)
	}
	return &rec, nil
}

// Enqueue publishes one ingestion request per supported file in folder and
// returns how many were queued.
func (uc *IngestionUseCase) Enqueue(ctx context.Context, collection, folder string) (int, error) {
	if uc.queue == nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "enqueue folder", errors.New("ingestion queue is not configured"))
	}
	files, err := uc.storage.List(ctx, folder)
	if err != nil {
		return 0, fmt.Errorf("list source folder: %w", err)
	}
	if len(files) == 0 {
		uc.logger.Warn("Nenhum documento encontrado na pasta.", "folder", folder)
		return 0, nil
	}

	queued := 0
	for _, path := range files {
		if err := uc.queue.PublishIngestion(ctx, domain.IngestionRequest{Collection: collection, Path: path}); err != nil {
			return queued, fmt.Errorf("publish ingestion request for %s: %w", filepath.Base(path), err)
		}
		uc.record(ctx, domain.IngestionRecord{PDFName: filepath.Base(path), Collection: collection, Status: domain.IngestionQueued})
		queued++
	}
	uc.logger.Info("ingestion_enqueued", "collection", collection, "folder", folder, "files", queued)
	return queued, nil
}

// Status returns the ledger entry of one source file.
func (uc *IngestionUseCase) Status(ctx context.Context, collection, pdfName string) (*domain.IngestionRecord, error) {
	if uc.ledger == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "ingestion status", errors.New("ingestion ledger is not configured"))
	}
	rec, err := uc.ledger.Get(ctx, collection, pdfName)
	if err != nil {
		return nil, fmt.Errorf("get ingestion record: %w", err)
	}
	return rec, nil
}

func (uc *IngestionUseCase) pipeline(ctx context.Context, collection, path, name string) ([]domain.Chunk, error) {
	text, err := uc.convert(ctx, path)
	if err != nil {
		return nil, err
	}

	result, err := uc.extract(ctx, name, text)
	if err != nil {
		return nil, err
	}

	chunks, err := uc.buildChunks(result, name)
	if err != nil {
		return nil, err
	}

	if err := uc.EnsureCollection(ctx, collection); err != nil {
		return nil, err
	}

	vectors, err := uc.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if err := uc.vectors.Upsert(ctx, collection, chunks, vectors); err != nil {
		return nil, fmt.Errorf("write chunks: %w", err)
	}
	return chunks, nil
}

func (uc *IngestionUseCase) convert(ctx context.Context, path string) (string, error) {
	text, err := uc.converter.Convert(ctx, path)
	if err != nil {
		if domain.IsKind(err, domain.ErrConversion) {
			return "", err
		}
		return "", domain.WrapError(domain.ErrConversion, "convert document", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrConversion, "convert document", errors.New("empty converted text"))
	}
	return text, nil
}

func (uc *IngestionUseCase) extract(ctx context.Context, name, text string) (ExtractionResult, error) {
	prompt := BuildExtractionPrompt(uc.schema, name, truncateRunes(text, uc.maxChars))
	raw, err := uc.model.Complete(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, ports.CompletionOptions{JSON: true})
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("extract metadata: %w", err)
	}
	result, err := ParseExtraction(raw)
	if err != nil {
		return ExtractionResult{}, err
	}
	return result, nil
}

func (uc *IngestionUseCase) buildChunks(result ExtractionResult, name string) ([]domain.Chunk, error) {
	chunks, skipped := BuildChunks(result, name)
	for _, err := range skipped {
		uc.logger.Warn("chunk_skipped", "file", name, "error", err)
	}
	if len(chunks) > 0 {
		return chunks, nil
	}
	if len(skipped) > 0 {
		return nil, errors.Join(skipped...)
	}
	return nil, domain.WrapError(domain.ErrExtractionParse, "build chunks", errors.New("extraction produced no chunks"))
}

func (uc *IngestionUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func (uc *IngestionUseCase) denseDimension(ctx context.Context) (int, error) {
	uc.sizeMu.Lock()
	defer uc.sizeMu.Unlock()
	if uc.denseSize > 0 {
		return uc.denseSize, nil
	}
	vec, err := uc.embedder.EmbedQuery(ctx, dimensionProbeText)
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(vec) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "probe embedding dimension", errors.New("embedder returned empty vector"))
	}
	uc.denseSize = len(vec)
	return uc.denseSize, nil
}

func (uc *IngestionUseCase) record(ctx context.Context, rec domain.IngestionRecord) {
	if uc.ledger == nil {
		return
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if err := uc.ledger.Save(ctx, rec); err != nil {
		uc.logger.Warn("ingestion_ledger_save_failed", "file", rec.PDFName, "status", rec.Status, "error", err)
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

func supportedSource(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".txt", ".md":
		return true
	default:
		return false
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.pdf"
	}
	return base
}
