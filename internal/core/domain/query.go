package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type Comparator string

const (
	ComparatorEq  Comparator = "eq"
	ComparatorNe  Comparator = "ne"
	ComparatorLt  Comparator = "lt"
	ComparatorLte Comparator = "lte"
	ComparatorGt  Comparator = "gt"
	ComparatorGte Comparator = "gte"
)

func (c Comparator) Valid() bool {
	switch c {
	case ComparatorEq, ComparatorNe, ComparatorLt, ComparatorLte, ComparatorGt, ComparatorGte:
		return true
	default:
		return false
	}
}

// Ordering reports whether the comparator needs an ordered (numeric) field.
func (c Comparator) Ordering() bool {
	switch c {
	case ComparatorLt, ComparatorLte, ComparatorGt, ComparatorGte:
		return true
	default:
		return false
	}
}

func (c Comparator) symbol() string {
	switch c {
	case ComparatorEq:
		return "="
	case ComparatorNe:
		return "!="
	case ComparatorLt:
		return "<"
	case ComparatorLte:
		return "<="
	case ComparatorGt:
		return ">"
	case ComparatorGte:
		return ">="
	default:
		return string(c)
	}
}

type Operator string

const (
	OperatorAnd Operator = "and"
	OperatorOr  Operator = "or"
	OperatorNot Operator = "not"
)

func (o Operator) Valid() bool {
	switch o {
	case OperatorAnd, OperatorOr, OperatorNot:
		return true
	default:
		return false
	}
}

// Filter is a boolean expression over chunk metadata. A node is either a
// comparison (Comparator set) or an operation over Arguments.
type Filter struct {
	Operator   Operator   `json:"operator,omitempty"`
	Arguments  []Filter   `json:"arguments,omitempty"`
	Comparator Comparator `json:"comparator,omitempty"`
	Attribute  string     `json:"attribute,omitempty"`
	Value      any        `json:"value,omitempty"`
}

func (f Filter) IsComparison() bool {
	return f.Comparator != ""
}

// Attributes lists every field referenced by the expression, in order.
func (f Filter) Attributes() []string {
	if f.IsComparison() {
		return []string{f.Attribute}
	}
	var out []string
	for _, arg := range f.Arguments {
		out = append(out, arg.Attributes()...)
	}
	return out
}

// String renders the expression as a human readable boolean expression,
// e.g. `status_atual = 'VIGENTE' AND data_status_ano < 2010`.
func (f Filter) String() string {
	if f.IsComparison() {
		return fmt.Sprintf("%s %s %s", f.Attribute, f.Comparator.symbol(), formatFilterValue(f.Value))
	}

	parts := make([]string, 0, len(f.Arguments))
	for _, arg := range f.Arguments {
		s := arg.String()
		if !arg.IsComparison() && len(arg.Arguments) > 1 {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}

	switch f.Operator {
	case OperatorNot:
		// not excludes a match on any argument.
		return "NOT (" + strings.Join(parts, " OR ") + ")"
	case OperatorOr:
		return strings.Join(parts, " OR ")
	default:
		return strings.Join(parts, " AND ")
	}
}

// NoFilterDisplay is shown when a query carries no metadata filter.
const NoFilterDisplay = "Nenhum filtro aplicado."

func FormatFilter(f *Filter) string {
	if f == nil {
		return NoFilterDisplay
	}
	s := strings.TrimSpace(f.String())
	if s == "" {
		return NoFilterDisplay
	}
	return s
}

func formatFilterValue(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + x + "'"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// StructuredQuery is the translator output: text for similarity search plus
// an optional metadata filter and an optional result limit.
type StructuredQuery struct {
	SemanticText string  `json:"query"`
	Filter       *Filter `json:"filter,omitempty"`
	Limit        int     `json:"limit,omitempty"`
}

// Retrieval is what the retriever hands to the rest of the workflow.
type Retrieval struct {
	Query  StructuredQuery
	Chunks []Chunk
}
