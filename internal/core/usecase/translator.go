package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
)

// QueryTranslator turns a natural-language question into a semantic text plus
// a metadata filter closed over the schema.
type QueryTranslator struct {
	model  ports.ChatModel
	schema domain.MetadataSchema
	logger *slog.Logger
}

func NewQueryTranslator(model ports.ChatModel, schema domain.MetadataSchema, logger *slog.Logger) *QueryTranslator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryTranslator{model: model, schema: schema, logger: logger}
}

// Translate never fails on an ambiguous or unparseable reply: the question is
// then searched as-is without a filter. Only model transport errors surface.
func (t *QueryTranslator) Translate(ctx context.Context, question string) (domain.StructuredQuery, error) {
	prompt := BuildTranslatorPrompt(t.schema, question)
	raw, err := t.model.Complete(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, ports.CompletionOptions{JSON: true})
	if err != nil {
		return domain.StructuredQuery{}, fmt.Errorf("translate question: %w", err)
	}

	query, err := ParseStructuredQuery(raw)
	if err != nil {
		t.logger.Warn("query_translation_fallback", "question", question, "error", err)
		return domain.StructuredQuery{SemanticText: question}, nil
	}

	filter, dropped := t.schema.Sanitize(query.Filter)
	for _, reason := range dropped {
		t.logger.Warn("filter_clause_dropped", "question", question, "reason", reason)
	}
	query.Filter = filter
	if strings.TrimSpace(query.SemanticText) == "" {
		query.SemanticText = question
	}
	return query, nil
}

type translatorReply struct {
	Query  *string         `json:"query"`
	Filter json.RawMessage `json:"filter"`
	Limit  any             `json:"limit"`
}

// ParseStructuredQuery decodes the translator reply. A malformed filter is
// discarded on its own; the semantic text is kept.
func ParseStructuredQuery(raw string) (domain.StructuredQuery, error) {
	body := jsonObjectSpan(stripCodeFences(raw))
	if body == "" {
		return domain.StructuredQuery{}, domain.WrapError(domain.ErrTranslation, "parse structured query", errors.New("no json object in reply"))
	}

	var reply translatorReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return domain.StructuredQuery{}, domain.WrapError(domain.ErrTranslation, "parse structured query", err)
	}
	if reply.Query == nil {
		return domain.StructuredQuery{}, domain.WrapError(domain.ErrTranslation, "parse structured query", errors.New(`missing "query"`))
	}

	out := domain.StructuredQuery{SemanticText: strings.TrimSpace(*reply.Query)}
	if len(reply.Filter) > 0 && string(reply.Filter) != "null" {
		var f domain.Filter
		if err := json.Unmarshal(reply.Filter, &f); err == nil {
			out.Filter = &f
		}
	}
	if reply.Limit != nil {
		if n, err := domain.CoerceInt(reply.Limit); err == nil && n > 0 {
			out.Limit = n
		}
	}
	return out, nil
}
