package usecase

import (
	"context"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

// AnswerGenerator streams a literal-quotation answer grounded on the given
// chunks only. An empty chunk list still produces an answer.
type AnswerGenerator struct {
	model ports.ChatModel
}

func NewAnswerGenerator(model ports.ChatModel) *AnswerGenerator {
	return &AnswerGenerator{model: model}
}

func (g *AnswerGenerator) Generate(ctx context.Context, question string, chunks []domain.Chunk) (ports.TokenStream, error) {
	stream, err := g.model.Stream(ctx, buildAnswerMessages(question, chunks))
	if err != nil {
		return nil, domain.WrapError(domain.ErrGeneration, "open answer stream", err)
	}
	return stream, nil
}
