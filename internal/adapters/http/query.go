package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/observability/metrics"
)

// eventError is sent in place of the remaining events when a stream fails
// after it has started.
const eventError domain.EventType = "error"

var errClientGone = errors.New("client stopped reading")

type queryRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
	K        int    `json:"k" validate:"omitempty,min=1,max=50"`
}

type errorData struct {
	Error string `json:"error"`
}

type streamSummary struct {
	sources  int
	tokens   int
	filtered bool
}

func (rt *Router) decodeQuery(body io.Reader) (queryRequest, error) {
	var req queryRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "decode query", fmt.Errorf("invalid json: %w", err))
	}
	req.Question = strings.TrimSpace(req.Question)
	if err := rt.validate.Struct(req); err != nil {
		return req, domain.WrapError(domain.ErrInvalidInput, "validate query", err)
	}
	return req, nil
}

// queryRAG streams the workflow events as server-sent events, one JSON event
// per data line.
func (rt *Router) queryRAG(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	req, err := rt.decodeQuery(r.Body)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}

	stream, err := rt.workflow.Run(r.Context(), req.Question, req.K)
	if err != nil {
		rt.recordFailure("sse", err)
		rt.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(ev domain.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		flusher.Flush()
		return nil
	}

	summary, err := pumpEvents(stream, emit)
	rt.finishStream(r, "sse", req.Question, started, summary, err, emit)
}

// pumpEvents forwards every event of stream to emit and closes the stream.
func pumpEvents(stream ports.EventStream, emit func(domain.Event) error) (streamSummary, error) {
	defer stream.Close()

	var summary streamSummary
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, err
		}

		switch ev.Type {
		case domain.EventDetails:
			if details, ok := ev.Data.(domain.QueryDetails); ok && details.Filter != domain.NoFilterDisplay {
				summary.filtered = true
			}
		case domain.EventToken:
			summary.tokens++
		case domain.EventSources:
			if sources, ok := ev.Data.([]domain.Source); ok {
				summary.sources = len(sources)
			}
		}

		if err := emit(ev); err != nil {
			return summary, err
		}
	}
}

func (rt *Router) finishStream(
	r *http.Request,
	transport, question string,
	started time.Time,
	summary streamSummary,
	err error,
	emit func(domain.Event) error,
) {
	switch {
	case err == nil:
		if rt.metrics != nil {
			rt.metrics.RecordRAGObservation(metricsService, metrics.RAGObservation{
				Transport: transport,
				Sources:   summary.sources,
				Tokens:    summary.tokens,
				Filtered:  summary.filtered,
				Duration:  time.Since(started),
			})
		}
	case errors.Is(err, errClientGone):
		rt.logger.Info("rag_stream_abandoned", "request_id", requestIDFromContext(r.Context()), "transport", transport)
	default:
		rt.recordFailure(transport, err)
		rt.logger.Error("rag_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"transport", transport,
			"question", question,
			"error", err,
		)
		_ = emit(domain.Event{Type: eventError, Data: errorData{Error: err.Error()}})
	}
}

func (rt *Router) recordFailure(transport string, err error) {
	if rt.metrics != nil {
		rt.metrics.RecordRAGFailure(metricsService, transport, errorStage(err))
	}
}
