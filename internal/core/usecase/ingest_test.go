package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

type observerFake struct {
	started  int
	finished int
	errs     int
}

func (f *observerFake) StartDocument() { f.started++ }

func (f *observerFake) FinishDocument(_ time.Duration, _ int, err error) {
	f.finished++
	if err != nil {
		f.errs++
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newIngestionFixture(files map[string]string, replies ...string) (*IngestionUseCase, *vectorStoreFake, *chatModelFake, *ledgerFake) {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	storage := &storageFake{files: paths}
	converter := &converterFake{texts: files}
	model := &chatModelFake{replies: replies}
	vectors := newVectorStoreFake()
	ledger := &ledgerFake{}
	uc := NewIngestionUseCase(storage, converter, model, &embedderFake{dim: 4}, vectors, IngestionOptions{
		DenseSize: 4,
		Ledger:    ledger,
		Logger:    discardLogger(),
	})
	return uc, vectors, model, ledger
}

func TestRunIngestionWritesTypedChunks(t *testing.T) {
	uc, vectors, model, ledger := newIngestionFixture(map[string]string{
		"sumulas/Sumula_70.pdf": "SÚMULA 70 ... REFERÊNCIAS NORMATIVAS: ... PRECEDENTES: ...",
	}, sumula70Reply)

	summary, err := uc.RunIngestion(context.Background(), "sumulas_jornada", "sumulas")
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionSummary{Files: 1, Processed: 1, Chunks: 3}, summary)

	points := vectors.points["sumulas_jornada"]
	require.Len(t, points, 3)
	for i, c := range points {
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, 2014, c.Metadata.DataStatusAno)
	}
	assert.Equal(t, domain.ChunkPrecedents, points[2].Metadata.ChunkType)

	require.Len(t, model.opts, 1)
	assert.True(t, model.opts[0].JSON)
	assert.Contains(t, model.prompts[0][0].Content, "Sumula_70.pdf")

	last := ledger.records[len(ledger.records)-1]
	assert.Equal(t, domain.IngestionDone, last.Status)
	assert.Equal(t, 3, last.Chunks)
	assert.Equal(t, "70", last.NumSumula)
}

func TestRunIngestionCreatesCollectionOnce(t *testing.T) {
	uc, vectors, _, _ := newIngestionFixture(map[string]string{
		"sumulas/Sumula_70.pdf": "texto",
	}, sumula70Reply)

	_, err := uc.RunIngestion(context.Background(), "sumulas_jornada", "sumulas")
	require.NoError(t, err)
	_, err = uc.RunIngestion(context.Background(), "sumulas_jornada", "sumulas")
	require.NoError(t, err)

	assert.Equal(t, 1, vectors.created["sumulas_jornada"])
	assert.Equal(t, 4, vectors.sizes["sumulas_jornada"])
}

func TestRunIngestionSkipsBadFiles(t *testing.T) {
	storage := &storageFake{files: []string{"sumulas/a.pdf", "sumulas/b.pdf", "sumulas/c.pdf"}}
	converter := &converterFake{
		texts: map[string]string{"sumulas/b.pdf": "texto b", "sumulas/c.pdf": "texto c"},
		errs:  map[string]error{"sumulas/a.pdf": errors.New("broken pdf")},
	}
	model := &chatModelFake{replies: []string{"sem json aqui", sumula70Reply}}
	vectors := newVectorStoreFake()
	observer := &observerFake{}
	uc := NewIngestionUseCase(storage, converter, model, &embedderFake{dim: 4}, vectors, IngestionOptions{
		DenseSize: 4,
		Observer:  observer,
		Logger:    discardLogger(),
	})

	summary, err := uc.RunIngestion(context.Background(), "col", "sumulas")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Files)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 3, summary.Chunks)
	assert.Equal(t, 3, observer.started)
	assert.Equal(t, 2, observer.errs)
}

func TestIngestFileConversionError(t *testing.T) {
	storage := &storageFake{}
	converter := &converterFake{errs: map[string]error{"x.pdf": errors.New("boom")}}
	uc := NewIngestionUseCase(storage, converter, &chatModelFake{}, &embedderFake{dim: 2}, newVectorStoreFake(), IngestionOptions{
		DenseSize: 2,
		Logger:    discardLogger(),
	})

	_, err := uc.IngestFile(context.Background(), "col", "x.pdf")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrConversion))
}

func TestIngestFileTruncatesText(t *testing.T) {
	long := strings.Repeat("á", 50)
	storage := &storageFake{}
	converter := &converterFake{texts: map[string]string{"s.pdf": long}}
	model := &chatModelFake{replies: []string{sumula70Reply}}
	uc := NewIngestionUseCase(storage, converter, model, &embedderFake{dim: 2}, newVectorStoreFake(), IngestionOptions{
		MaxChars:  10,
		DenseSize: 2,
		Logger:    discardLogger(),
	})

	_, err := uc.IngestFile(context.Background(), "col", "s.pdf")
	require.NoError(t, err)
	prompt := model.prompts[0][0].Content
	assert.Contains(t, prompt, strings.Repeat("á", 10)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("á", 11))
}

func TestIngestFileCoercionFailureWritesNothing(t *testing.T) {
	reply := `{"metadados": {"num_sumula": "5", "data_status_ano": "sem data"}, "chunks": {"conteudo_principal": "texto"}}`
	uc, vectors, _, ledger := newIngestionFixture(map[string]string{"sumulas/Sumula_5.pdf": "texto"}, reply)

	_, err := uc.IngestFile(context.Background(), "col", "sumulas/Sumula_5.pdf")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrFieldCoercion))
	assert.Empty(t, vectors.points["col"])
	assert.Equal(t, domain.IngestionFailed, ledger.records[len(ledger.records)-1].Status)
}

func TestEnsureCollectionProbesDimension(t *testing.T) {
	embedder := &embedderFake{dim: 768}
	vectors := newVectorStoreFake()
	uc := NewIngestionUseCase(&storageFake{}, &converterFake{}, &chatModelFake{}, embedder, vectors, IngestionOptions{Logger: discardLogger()})

	require.NoError(t, uc.EnsureCollection(context.Background(), "col"))
	require.NoError(t, uc.EnsureCollection(context.Background(), "col"))
	assert.Equal(t, 768, vectors.sizes["col"])
	assert.Len(t, embedder.queries, 1)
}

func TestSubmitQueuesUpload(t *testing.T) {
	storage := &storageFake{}
	queue := &queueFake{}
	ledger := &ledgerFake{}
	uc := NewIngestionUseCase(storage, &converterFake{}, &chatModelFake{}, &embedderFake{dim: 2}, newVectorStoreFake(), IngestionOptions{
		DenseSize: 2,
		Ledger:    ledger,
		Queue:     queue,
		Logger:    discardLogger(),
	})

	rec, err := uc.Submit(context.Background(), "col", "Súmula 70.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "S_mula_70.pdf", rec.PDFName)
	assert.Equal(t, domain.IngestionQueued, rec.Status)
	require.Len(t, queue.published, 1)
	assert.Equal(t, domain.IngestionRequest{Collection: "col", Path: "sumulas/S_mula_70.pdf"}, queue.published[0])

	status, err := uc.Status(context.Background(), "col", "S_mula_70.pdf")
	require.NoError(t, err)
	assert.Equal(t, domain.IngestionQueued, status.Status)
}

func TestSubmitRejectsUnsupportedType(t *testing.T) {
	uc := NewIngestionUseCase(&storageFake{}, &converterFake{}, &chatModelFake{}, &embedderFake{dim: 2}, newVectorStoreFake(), IngestionOptions{
		Queue:  &queueFake{},
		Logger: discardLogger(),
	})

	_, err := uc.Submit(context.Background(), "col", "planilha.xlsx", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestEnqueuePublishesEveryFile(t *testing.T) {
	storage := &storageFake{files: []string{"data/Sumula_1.pdf", "data/Sumula_2.pdf"}}
	queue := &queueFake{}
	ledger := &ledgerFake{}
	uc := NewIngestionUseCase(storage, &converterFake{}, &chatModelFake{}, &embedderFake{dim: 2}, newVectorStoreFake(), IngestionOptions{
		Ledger: ledger,
		Queue:  queue,
		Logger: discardLogger(),
	})

	n, err := uc.Enqueue(context.Background(), "col", "data")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []domain.IngestionRequest{
		{Collection: "col", Path: "data/Sumula_1.pdf"},
		{Collection: "col", Path: "data/Sumula_2.pdf"},
	}, queue.published)
	require.Len(t, ledger.records, 2)
	assert.Equal(t, domain.IngestionQueued, ledger.records[1].Status)
}

func TestEnqueueWithoutQueue(t *testing.T) {
	uc := NewIngestionUseCase(&storageFake{}, &converterFake{}, &chatModelFake{}, &embedderFake{dim: 2}, newVectorStoreFake(), IngestionOptions{
		Logger: discardLogger(),
	})

	_, err := uc.Enqueue(context.Background(), "col", "data")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}
