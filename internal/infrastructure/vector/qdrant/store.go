package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
	textPayloadKey   = "text"
)

// pointsAPI is the part of *qdrant.Client the store needs.
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

type Config struct {
	Host     string
	Port     int
	APIKey   string
	UseTLS   bool
	Executor *resilience.Executor
	Logger   *slog.Logger
}

// Store keeps súmula chunks in collections with a named dense vector and a
// named sparse (BM25 style) vector, and fuses both rankings on search.
type Store struct {
	api    pointsAPI
	schema domain.MetadataSchema
	exec   *resilience.Executor
	logger *slog.Logger

	ensureMu sync.Mutex
	ensured  map[string]int
}

func New(cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return newStore(client, cfg.Executor, cfg.Logger), nil
}

func newStore(api pointsAPI, exec *resilience.Executor, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:     api,
		schema:  domain.DefaultMetadataSchema(),
		exec:    exec,
		logger:  logger,
		ensured: make(map[string]int),
	}
}

func (s *Store) Close() error {
	return s.api.Close()
}

// EnsureCollection creates the collection with both vector spaces and one
// payload index per schema field. An existing collection is left untouched.
func (s *Store) EnsureCollection(ctx context.Context, collection string, denseSize int) error {
	if denseSize <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "ensure collection", fmt.Errorf("dense size must be positive, got %d", denseSize))
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if size, ok := s.ensured[collection]; ok {
		if size != denseSize {
			return domain.WrapError(domain.ErrInvalidInput, "ensure collection",
				fmt.Errorf("collection %s uses dense size %d, got %d", collection, size, denseSize))
		}
		return nil
	}

	exists, err := resilience.Call(ctx, s.exec, "qdrant.collection_exists", func(ctx context.Context) (bool, error) {
		return s.api.CollectionExists(ctx, collection)
	}, classifyQdrantError)
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant collection exists", err)
	}

	if !exists {
		if err := s.createCollection(ctx, collection, denseSize); err != nil {
			return err
		}
		s.logger.Info("qdrant_collection_created", "collection", collection, "dense_size", denseSize)
	}

	s.ensured[collection] = denseSize
	return nil
}

func (s *Store) createCollection(ctx context.Context, collection string, denseSize int) error {
	err := s.exec.Execute(ctx, "qdrant.create_collection", func(ctx context.Context) error {
		return s.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				denseVectorName: {Size: uint64(denseSize), Distance: qdrant.Distance_Cosine},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				sparseVectorName: {},
			}),
		})
	}, classifyQdrantError)
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return wrapTemporaryIfNeeded("qdrant create collection", err)
	}

	for _, field := range s.schema.Fields {
		fieldType := qdrant.FieldType_FieldTypeKeyword
		if field.Type == domain.FieldInteger {
			fieldType = qdrant.FieldType_FieldTypeInteger
		}
		_, err := s.api.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field.Name,
			FieldType:      qdrant.PtrOf(fieldType),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return fmt.Errorf("create payload index %s: %w", field.Name, err)
		}
	}
	return nil
}

// Upsert writes all chunks in one request. Point ids derive from collection,
// file name and chunk index, so re-ingesting a file overwrites its points.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []domain.Chunk, dense [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(dense) {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert",
			fmt.Errorf("chunks/vectors mismatch: %d/%d", len(chunks), len(dense)))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		vectors := map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVectorDense(dense[i]),
		}
		if sparse := encodeSparseDocument(c.Text, c.Metadata.PDFName); !sparse.empty() {
			vectors[sparseVectorName] = qdrant.NewVectorSparse(sparse.Indices, sparse.Values)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(collection, c.Metadata)),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(chunkPayload(c)),
		})
	}

	err := s.exec.Execute(ctx, "qdrant.upsert", func(ctx context.Context) error {
		_, err := s.api.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}, classifyQdrantError)
	if err != nil {
		return wrapTemporaryIfNeeded("qdrant upsert", err)
	}
	return nil
}

// HybridSearch prefetches dense and sparse candidates under the same filter
// and fuses them with reciprocal rank fusion. Zero hits is an empty slice.
func (s *Store) HybridSearch(ctx context.Context, collection string, query ports.HybridQuery) ([]domain.Chunk, error) {
	if query.Limit <= 0 {
		return []domain.Chunk{}, nil
	}
	filter, err := toQdrantFilter(query.Filter)
	if err != nil {
		return nil, err
	}

	limit := uint64(query.Limit)
	prefetchLimit := limit * 2
	prefetch := []*qdrant.PrefetchQuery{{
		Query:  qdrant.NewQueryDense(query.DenseVector),
		Using:  qdrant.PtrOf(denseVectorName),
		Filter: filter,
		Limit:  &prefetchLimit,
	}}
	if sparse := encodeSparseQuery(query.Text); !sparse.empty() {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query:  qdrant.NewQuerySparse(sparse.Indices, sparse.Values),
			Using:  qdrant.PtrOf(sparseVectorName),
			Filter: filter,
			Limit:  &prefetchLimit,
		})
	}

	points, err := resilience.Call(ctx, s.exec, "qdrant.query", func(ctx context.Context) ([]*qdrant.ScoredPoint, error) {
		return s.api.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Prefetch:       prefetch,
			Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
			Filter:         filter,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
	}, classifyQdrantError)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []domain.Chunk{}, nil
		}
		return nil, wrapTemporaryIfNeeded("qdrant query", err)
	}

	out := make([]domain.Chunk, 0, len(points))
	for _, p := range points {
		out = append(out, chunkFromPayload(p.GetPayload(), float64(p.GetScore())))
	}
	return out, nil
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case codes.AlreadyExists, codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyDomainError(err)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyQdrantError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
