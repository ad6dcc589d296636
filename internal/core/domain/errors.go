package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	// Ingestion failures. All of them are scoped to a single file or chunk.
	ErrConversion      = errors.New("document conversion failed")
	ErrExtractionParse = errors.New("extraction output unparseable")
	ErrFieldCoercion   = errors.New("metadata field coercion failed")

	// Query path failures.
	ErrTranslation = errors.New("query translation ambiguous")
	ErrGeneration  = errors.New("answer generation failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
