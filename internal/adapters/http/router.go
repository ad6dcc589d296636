package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/kirillkom/sumulas-assistant/internal/config"
	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/observability/metrics"
)

const (
	metricsService  = "api"
	maxUploadBytes  = 32 << 20
	backpressureTTL = 250 * time.Millisecond
)

// DocumentService accepts uploads for background ingestion and reports the
// ledger state of a source file.
type DocumentService interface {
	Submit(ctx context.Context, collection, filename string, body io.Reader) (*domain.IngestionRecord, error)
	Status(ctx context.Context, collection, pdfName string) (*domain.IngestionRecord, error)
}

type Router struct {
	cfg       config.Config
	workflow  ports.QueryWorkflow
	documents DocumentService
	logger    *slog.Logger
	metrics   *metrics.HTTPServerMetrics
	validate  *validator.Validate
	upgrader  websocket.Upgrader
}

// NewRouter wires the HTTP surface. documents and m may be nil.
func NewRouter(
	cfg config.Config,
	workflow ports.QueryWorkflow,
	documents DocumentService,
	logger *slog.Logger,
	m *metrics.HTTPServerMetrics,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		workflow:  workflow,
		documents: documents,
		logger:    logger,
		metrics:   m,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/rag/query", rt.queryRAG)
	mux.HandleFunc("GET /v1/rag/ws", rt.queryRAGWebSocket)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{pdf_name}", rt.getDocument)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, backpressureTTL)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(metricsService, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.documents == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "document upload is not configured"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	collection := rt.collection(r.FormValue("collection"))
	rec, err := rt.documents.Submit(r.Context(), collection, fileHeader.Filename, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	if rt.documents == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "ingestion ledger is not configured"})
		return
	}
	pdfName := strings.TrimSpace(r.PathValue("pdf_name"))
	if pdfName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pdf_name is required"})
		return
	}

	rec, err := rt.documents.Status(r.Context(), rt.collection(r.URL.Query().Get("collection")), pdfName)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *Router) collection(requested string) string {
	if c := strings.TrimSpace(requested); c != "" {
		return c
	}
	return rt.cfg.QdrantCollection
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
