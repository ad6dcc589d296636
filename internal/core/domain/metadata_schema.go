package domain

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed metadata_schema.yaml
var metadataSchemaYAML []byte

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
)

// MetadataField describes one filterable payload field. Extract is the
// instruction given to the extraction model; derived fields leave it empty.
type MetadataField struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Description string    `yaml:"description"`
	Extract     string    `yaml:"extract"`
}

type MetadataSchema struct {
	ContentDescription string          `yaml:"content_description"`
	Fields             []MetadataField `yaml:"fields"`
}

func ParseMetadataSchema(raw []byte) (MetadataSchema, error) {
	var schema MetadataSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return MetadataSchema{}, fmt.Errorf("decode metadata schema: %w", err)
	}
	if len(schema.Fields) == 0 {
		return MetadataSchema{}, errors.New("metadata schema declares no fields")
	}

	seen := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return MetadataSchema{}, errors.New("metadata field without name")
		}
		if _, dup := seen[f.Name]; dup {
			return MetadataSchema{}, fmt.Errorf("duplicate metadata field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Type != FieldString && f.Type != FieldInteger {
			return MetadataSchema{}, fmt.Errorf("metadata field %q has unsupported type %q", f.Name, f.Type)
		}
	}
	return schema, nil
}

var defaultSchema = sync.OnceValue(func() MetadataSchema {
	schema, err := ParseMetadataSchema(metadataSchemaYAML)
	if err != nil {
		panic(err)
	}
	return schema
})

// DefaultMetadataSchema returns the embedded súmula schema.
func DefaultMetadataSchema() MetadataSchema {
	return defaultSchema()
}

func (s MetadataSchema) Field(name string) (MetadataField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return MetadataField{}, false
}

// ExtractedFields are the fields the extraction model must fill in.
func (s MetadataSchema) ExtractedFields() []MetadataField {
	out := make([]MetadataField, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Extract != "" {
			out = append(out, f)
		}
	}
	return out
}

// Sanitize enforces filter closure over the schema: clauses that reference
// undeclared fields, use an unknown comparator, or carry a value that cannot
// be coerced to the field type are dropped. The returned slice describes each
// dropped clause. A nil filter means nothing survived.
func (s MetadataSchema) Sanitize(f *Filter) (*Filter, []string) {
	if f == nil {
		return nil, nil
	}
	var dropped []string
	out, ok := s.sanitize(*f, &dropped)
	if !ok {
		return nil, dropped
	}
	return &out, dropped
}

func (s MetadataSchema) sanitize(f Filter, dropped *[]string) (Filter, bool) {
	if f.IsComparison() {
		return s.sanitizeComparison(f, dropped)
	}
	if f.Attribute != "" {
		*dropped = append(*dropped, fmt.Sprintf("comparison without comparator on %s", f.Attribute))
		return Filter{}, false
	}
	if f.Operator != "" && len(f.Arguments) == 0 {
		*dropped = append(*dropped, fmt.Sprintf("operation %s without arguments", f.Operator))
		return Filter{}, false
	}

	op := f.Operator
	if op == "" {
		op = OperatorAnd
	}
	if !op.Valid() {
		*dropped = append(*dropped, fmt.Sprintf("unknown operator %q", f.Operator))
		return Filter{}, false
	}

	args := make([]Filter, 0, len(f.Arguments))
	for _, arg := range f.Arguments {
		if clean, ok := s.sanitize(arg, dropped); ok {
			args = append(args, clean)
		}
	}
	if len(args) == 0 {
		return Filter{}, false
	}
	if op != OperatorNot && len(args) == 1 {
		return args[0], true
	}
	return Filter{Operator: op, Arguments: args}, true
}

func (s MetadataSchema) sanitizeComparison(f Filter, dropped *[]string) (Filter, bool) {
	field, ok := s.Field(f.Attribute)
	if !ok {
		*dropped = append(*dropped, fmt.Sprintf("unknown field %q", f.Attribute))
		return Filter{}, false
	}
	if !f.Comparator.Valid() {
		*dropped = append(*dropped, fmt.Sprintf("unknown comparator %q on %s", f.Comparator, f.Attribute))
		return Filter{}, false
	}

	switch field.Type {
	case FieldInteger:
		n, err := CoerceInt(f.Value)
		if err != nil {
			*dropped = append(*dropped, fmt.Sprintf("%s expects integer: %v", f.Attribute, err))
			return Filter{}, false
		}
		f.Value = n
	default:
		if f.Comparator.Ordering() {
			*dropped = append(*dropped, fmt.Sprintf("%s is a string field, %s not supported", f.Attribute, f.Comparator))
			return Filter{}, false
		}
		str, ok := coerceString(f.Value)
		if !ok {
			*dropped = append(*dropped, fmt.Sprintf("%s expects string, got %T", f.Attribute, f.Value))
			return Filter{}, false
		}
		f.Value = str
	}
	f.Operator = ""
	f.Arguments = nil
	return f, true
}

// CoerceInt accepts JSON numbers and numeric strings.
func CoerceInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return 0, fmt.Errorf("non integral number %v", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("non numeric value %q", x)
		}
		return n, nil
	case nil:
		return 0, errors.New("missing value")
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func coerceString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	default:
		return "", false
	}
}
