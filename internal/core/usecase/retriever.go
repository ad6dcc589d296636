package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

const DefaultTopK = 10

type queryTranslator interface {
	Translate(ctx context.Context, question string) (domain.StructuredQuery, error)
}

type Retriever struct {
	translator queryTranslator
	embedder   ports.Embedder
	vectors    ports.VectorStore
	collection string
}

func NewRetriever(translator queryTranslator, embedder ports.Embedder, vectors ports.VectorStore, collection string) *Retriever {
	return &Retriever{
		translator: translator,
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
	}
}

// Retrieve translates the question and runs a filtered hybrid search. k <= 0
// means DefaultTopK. A limit requested in the question can only lower k.
// No matches is not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) (domain.Retrieval, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	query, err := r.translator.Translate(ctx, question)
	if err != nil {
		return domain.Retrieval{}, err
	}

	limit := k
	if query.Limit > 0 && query.Limit < k {
		limit = query.Limit
	}
	text := strings.TrimSpace(query.SemanticText)
	if text == "" {
		text = question
	}

	vector, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return domain.Retrieval{}, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := r.vectors.HybridSearch(ctx, r.collection, ports.HybridQuery{
		Text:        text,
		DenseVector: vector,
		Filter:      query.Filter,
		Limit:       limit,
	})
	if err != nil {
		return domain.Retrieval{}, fmt.Errorf("hybrid search: %w", err)
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}
	return domain.Retrieval{Query: query, Chunks: chunks}, nil
}
