package qdrant

import (
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

var errUnsupportedFilter = errors.New("unsupported filter")

// toQdrantFilter translates a sanitized filter expression. nil means no filter.
func toQdrantFilter(f *domain.Filter) (*qdrant.Filter, error) {
	if f == nil {
		return nil, nil
	}
	if f.IsComparison() {
		return comparisonFilter(*f)
	}

	conds := make([]*qdrant.Condition, 0, len(f.Arguments))
	for _, arg := range f.Arguments {
		c, err := toCondition(arg)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	switch f.Operator {
	case domain.OperatorAnd, "":
		return &qdrant.Filter{Must: conds}, nil
	case domain.OperatorOr:
		return &qdrant.Filter{Should: conds}, nil
	case domain.OperatorNot:
		return &qdrant.Filter{MustNot: conds}, nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "translate filter", fmt.Errorf("%w: operator %q", errUnsupportedFilter, f.Operator))
	}
}

func toCondition(f domain.Filter) (*qdrant.Condition, error) {
	if f.IsComparison() && f.Comparator != domain.ComparatorNe {
		return fieldCondition(f)
	}
	nested, err := toQdrantFilter(&f)
	if err != nil {
		return nil, err
	}
	if nested == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "translate filter", fmt.Errorf("%w: empty operation", errUnsupportedFilter))
	}
	return qdrant.NewFilterAsCondition(nested), nil
}

func comparisonFilter(f domain.Filter) (*qdrant.Filter, error) {
	if f.Comparator == domain.ComparatorNe {
		eq := f
		eq.Comparator = domain.ComparatorEq
		c, err := fieldCondition(eq)
		if err != nil {
			return nil, err
		}
		return &qdrant.Filter{MustNot: []*qdrant.Condition{c}}, nil
	}
	c, err := fieldCondition(f)
	if err != nil {
		return nil, err
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{c}}, nil
}

func fieldCondition(f domain.Filter) (*qdrant.Condition, error) {
	switch f.Comparator {
	case domain.ComparatorEq:
		switch v := f.Value.(type) {
		case string:
			return qdrant.NewMatchKeyword(f.Attribute, v), nil
		case int:
			return qdrant.NewMatchInt(f.Attribute, int64(v)), nil
		case int64:
			return qdrant.NewMatchInt(f.Attribute, v), nil
		}
	case domain.ComparatorLt, domain.ComparatorLte, domain.ComparatorGt, domain.ComparatorGte:
		n, err := domain.CoerceInt(f.Value)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "translate filter", fmt.Errorf("%s: %w", f.Attribute, err))
		}
		bound := qdrant.PtrOf(float64(n))
		r := &qdrant.Range{}
		switch f.Comparator {
		case domain.ComparatorLt:
			r.Lt = bound
		case domain.ComparatorLte:
			r.Lte = bound
		case domain.ComparatorGt:
			r.Gt = bound
		default:
			r.Gte = bound
		}
		return qdrant.NewRange(f.Attribute, r), nil
	}
	return nil, domain.WrapError(domain.ErrInvalidInput, "translate filter",
		fmt.Errorf("%w: %s %s %T", errUnsupportedFilter, f.Attribute, f.Comparator, f.Value))
}
