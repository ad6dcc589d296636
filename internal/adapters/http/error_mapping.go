package httpadapter

import (
	"net/http"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrGeneration), domain.IsKind(err, domain.ErrTranslation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorStage names the failing step for metrics labels.
func errorStage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "input"
	case domain.IsKind(err, domain.ErrGeneration):
		return "generate"
	case domain.IsKind(err, domain.ErrTranslation):
		return "translate"
	case domain.IsKind(err, domain.ErrTemporary):
		return "dependency"
	default:
		return "internal"
	}
}
