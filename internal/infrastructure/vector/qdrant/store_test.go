package qdrant

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

type pointsAPIFake struct {
	mu          sync.Mutex
	exists      map[string]bool
	creates     []*qdrant.CreateCollection
	indexes     []*qdrant.CreateFieldIndexCollection
	upserts     []*qdrant.UpsertPoints
	queries     []*qdrant.QueryPoints
	queryResult []*qdrant.ScoredPoint
	queryErr    error
	createErr   error
}

func newPointsAPIFake() *pointsAPIFake {
	return &pointsAPIFake{exists: map[string]bool{}}
}

func (f *pointsAPIFake) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[name], nil
}

func (f *pointsAPIFake) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, req)
	if f.createErr != nil {
		return f.createErr
	}
	f.exists[req.GetCollectionName()] = true
	return nil
}

func (f *pointsAPIFake) CreateFieldIndex(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes = append(f.indexes, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *pointsAPIFake) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *pointsAPIFake) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	return f.queryResult, f.queryErr
}

func (f *pointsAPIFake) Close() error { return nil }

func testStore(api pointsAPI) *Store {
	return newStore(api, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	api := newPointsAPIFake()
	store := testStore(api)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.EnsureCollection(context.Background(), "sumulas_jornada", 1024))
	}
	require.Len(t, api.creates, 1)

	create := api.creates[0]
	dense := create.GetVectorsConfig().GetParamsMap().GetMap()[denseVectorName]
	require.NotNil(t, dense)
	assert.Equal(t, uint64(1024), dense.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, dense.GetDistance())
	assert.Contains(t, create.GetSparseVectorsConfig().GetMap(), sparseVectorName)

	types := map[string]qdrant.FieldType{}
	for _, idx := range api.indexes {
		types[idx.GetFieldName()] = idx.GetFieldType()
	}
	assert.Equal(t, qdrant.FieldType_FieldTypeInteger, types["data_status_ano"])
	assert.Equal(t, qdrant.FieldType_FieldTypeKeyword, types["status_atual"])
	assert.Len(t, types, len(domain.DefaultMetadataSchema().Fields))
}

func TestEnsureCollectionSkipsExisting(t *testing.T) {
	api := newPointsAPIFake()
	api.exists["sumulas_jornada"] = true
	store := testStore(api)

	require.NoError(t, store.EnsureCollection(context.Background(), "sumulas_jornada", 768))
	assert.Empty(t, api.creates)
	assert.Empty(t, api.indexes)
}

func TestEnsureCollectionToleratesConcurrentCreate(t *testing.T) {
	api := newPointsAPIFake()
	api.createErr = status.Error(codes.AlreadyExists, "collection exists")
	store := testStore(api)

	require.NoError(t, store.EnsureCollection(context.Background(), "c", 8))
}

func TestEnsureCollectionRejectsSizeChange(t *testing.T) {
	store := testStore(newPointsAPIFake())
	require.NoError(t, store.EnsureCollection(context.Background(), "c", 8))
	err := store.EnsureCollection(context.Background(), "c", 16)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestUpsertWritesNamedVectorsAndFlatPayload(t *testing.T) {
	api := newPointsAPIFake()
	store := testStore(api)
	chunks := []domain.Chunk{
		{Text: "É vedada a contratação.", Metadata: domain.ChunkMetadata{
			NumSumula: "70", StatusAtual: "VIGENTE", DataStatus: "07/04/14", DataStatusAno: 2014,
			PDFName: "Sumula_70.pdf", ChunkType: domain.ChunkMainContent, ChunkIndex: 0,
		}},
		{Text: "Lei 8.666/93.", Metadata: domain.ChunkMetadata{
			NumSumula: "70", DataStatusAno: 2014, PDFName: "Sumula_70.pdf", ChunkType: domain.ChunkNormativeRefs, ChunkIndex: 1,
		}},
	}

	require.NoError(t, store.Upsert(context.Background(), "c", chunks, [][]float32{{0.1, 0.2}, {0.3, 0.4}}))
	require.Len(t, api.upserts, 1)
	points := api.upserts[0].GetPoints()
	require.Len(t, points, 2)

	first := points[0]
	vectors := first.GetVectors().GetVectors().GetVectors()
	assert.Contains(t, vectors, denseVectorName)
	assert.Contains(t, vectors, sparseVectorName)
	payload := first.GetPayload()
	assert.Equal(t, "É vedada a contratação.", payload["text"].GetStringValue())
	assert.Equal(t, int64(2014), payload["data_status_ano"].GetIntegerValue())
	assert.Equal(t, "conteudo_principal", payload["chunk_type"].GetStringValue())

	assert.Equal(t, pointID("c", chunks[0].Metadata), first.GetId().GetUuid())
	assert.NotEqual(t, first.GetId().GetUuid(), points[1].GetId().GetUuid())
}

func TestUpsertRejectsMismatch(t *testing.T) {
	err := testStore(newPointsAPIFake()).Upsert(context.Background(), "c", []domain.Chunk{{Text: "a"}}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrInvalidInput))
}

func TestHybridSearchBuildsFusionQuery(t *testing.T) {
	api := newPointsAPIFake()
	api.queryResult = []*qdrant.ScoredPoint{{
		Score: 0.5,
		Payload: qdrant.NewValueMap(map[string]any{
			"text":            "trecho",
			"num_sumula":      "12",
			"data_status_ano": int64(2009),
			"chunk_index":     int64(2),
			"chunk_type":      "precedentes",
			"pdf_name":        "Sumula_12.pdf",
		}),
	}}
	store := testStore(api)

	filter := &domain.Filter{Comparator: domain.ComparatorLt, Attribute: "data_status_ano", Value: 2010}
	out, err := store.HybridSearch(context.Background(), "c", ports.HybridQuery{
		Text: "súmulas sobre licitação", DenseVector: []float32{0.1, 0.2}, Filter: filter, Limit: 4,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 2009, out[0].Metadata.DataStatusAno)
	assert.Equal(t, 2, out[0].Metadata.ChunkIndex)
	assert.Equal(t, domain.ChunkPrecedents, out[0].Metadata.ChunkType)
	assert.InDelta(t, 0.5, out[0].Score, 1e-6)

	require.Len(t, api.queries, 1)
	q := api.queries[0]
	assert.Equal(t, uint64(4), q.GetLimit())
	assert.Equal(t, qdrant.Fusion_RRF, q.GetQuery().GetFusion())
	require.Len(t, q.GetPrefetch(), 2)
	assert.Equal(t, denseVectorName, q.GetPrefetch()[0].GetUsing())
	assert.Equal(t, sparseVectorName, q.GetPrefetch()[1].GetUsing())

	rng := q.GetFilter().GetMust()[0].GetField().GetRange()
	require.NotNil(t, rng)
	assert.Equal(t, 2010.0, rng.GetLt())
	assert.Equal(t, "data_status_ano", q.GetFilter().GetMust()[0].GetField().GetKey())
}

func TestHybridSearchSkipsSparseForStopwordOnlyText(t *testing.T) {
	api := newPointsAPIFake()
	store := testStore(api)

	out, err := store.HybridSearch(context.Background(), "c", ports.HybridQuery{Text: "de da", DenseVector: []float32{1}, Limit: 3})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Len(t, api.queries[0].GetPrefetch(), 1)
	assert.Nil(t, api.queries[0].GetFilter())
}

func TestHybridSearchMissingCollectionIsEmpty(t *testing.T) {
	api := newPointsAPIFake()
	api.queryErr = status.Error(codes.NotFound, "collection not found")

	out, err := testStore(api).HybridSearch(context.Background(), "missing", ports.HybridQuery{Text: "x", DenseVector: []float32{1}, Limit: 3})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestHybridSearchUnavailableIsTemporary(t *testing.T) {
	api := newPointsAPIFake()
	api.queryErr = status.Error(codes.Unavailable, "connection refused")

	_, err := testStore(api).HybridSearch(context.Background(), "c", ports.HybridQuery{Text: "x", DenseVector: []float32{1}, Limit: 3})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
}
