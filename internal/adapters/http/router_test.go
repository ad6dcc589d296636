package httpadapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/sumulas-assistant/internal/config"
	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
	"github.com/kirillkom/sumulas-assistant/internal/core/ports"
	"github.com/kirillkom/sumulas-assistant/internal/observability/metrics"
)

type eventStreamFake struct {
	events []domain.Event
	err    error
	pos    int
	closed bool
}

func (s *eventStreamFake) Recv() (domain.Event, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		return domain.Event{}, s.err
	}
	return domain.Event{}, io.EOF
}

func (s *eventStreamFake) Close() error {
	s.closed = true
	return nil
}

type workflowFake struct {
	mu        sync.Mutex
	stream    *eventStreamFake
	err       error
	questions []string
	ks        []int
}

func (f *workflowFake) Run(_ context.Context, question string, k int) (ports.EventStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, question)
	f.ks = append(f.ks, k)
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type documentsFake struct {
	submitted map[string]string
	statusErr error
}

func (f *documentsFake) Submit(_ context.Context, collection, filename string, body io.Reader) (*domain.IngestionRecord, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if f.submitted == nil {
		f.submitted = map[string]string{}
	}
	f.submitted[filename] = string(raw)
	return &domain.IngestionRecord{PDFName: filename, Collection: collection, Status: domain.IngestionQueued}, nil
}

func (f *documentsFake) Status(_ context.Context, collection, pdfName string) (*domain.IngestionRecord, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &domain.IngestionRecord{PDFName: pdfName, Collection: collection, Status: domain.IngestionDone, Chunks: 3}, nil
}

func (f *workflowFake) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.questions...)
}

func testConfig() config.Config {
	return config.Config{QdrantCollection: "sumulas_jornada", RAGTopK: 10}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(cfg config.Config, wf ports.QueryWorkflow, docs DocumentService) http.Handler {
	return NewRouter(cfg, wf, docs, discardLogger(), nil).Handler()
}

func scenarioEvents() []domain.Event {
	return []domain.Event{
		{Type: domain.EventDetails, Data: domain.QueryDetails{Query: "súmulas", Filter: "data_status_ano < '2010'"}},
		{Type: domain.EventToken, Data: "Sim, "},
		{Type: domain.EventToken, Data: "existem."},
		{Type: domain.EventSources, Data: []domain.Source{{PDFName: "Sumula_12.pdf", NumSumula: "12"}}},
	}
}

func readSSE(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		out = append(out, ev)
	}
	return out
}

func postQuery(handler http.Handler, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/rag/query", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestQueryRAGStreamsEventsInOrder(t *testing.T) {
	stream := &eventStreamFake{events: scenarioEvents()}
	wf := &workflowFake{stream: stream}
	handler := newTestHandler(testConfig(), wf, nil)

	res := postQuery(handler, `{"question":"  súmulas antes de 2010  ","k":4}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := readSSE(t, res.Body)
	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	if strings.Join(types, ",") != "details,token,token,sources" {
		t.Fatalf("unexpected event order: %v", types)
	}
	if wf.questions[0] != "súmulas antes de 2010" || wf.ks[0] != 4 {
		t.Fatalf("unexpected workflow input: %q %d", wf.questions[0], wf.ks[0])
	}
	if !stream.closed {
		t.Fatalf("expected stream to be closed")
	}
}

func TestQueryRAGRejectsBlankQuestion(t *testing.T) {
	handler := newTestHandler(testConfig(), &workflowFake{}, nil)

	for _, payload := range []string{`{"question":"   "}`, `{"question":"ok","k":500}`, `not json`} {
		if res := postQuery(handler, payload); res.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: expected 400, got %d", payload, res.Code)
		}
	}
}

func TestQueryRAGMapsStartupErrors(t *testing.T) {
	wf := &workflowFake{err: domain.WrapError(domain.ErrTemporary, "retrieve", errors.New("qdrant unavailable"))}
	res := postQuery(newTestHandler(testConfig(), wf, nil), `{"question":"x"}`)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}

	wf = &workflowFake{err: domain.WrapError(domain.ErrGeneration, "generate", errors.New("model down"))}
	res = postQuery(newTestHandler(testConfig(), wf, nil), `{"question":"x"}`)
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
}

func TestQueryRAGSendsErrorEventOnMidStreamFailure(t *testing.T) {
	stream := &eventStreamFake{
		events: scenarioEvents()[:2],
		err:    domain.WrapError(domain.ErrGeneration, "stream answer", errors.New("connection reset")),
	}
	res := postQuery(newTestHandler(testConfig(), &workflowFake{stream: stream}, nil), `{"question":"x"}`)

	events := readSSE(t, res.Body)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	last := events[2]
	if last["type"] != "error" {
		t.Fatalf("expected trailing error event, got %v", last)
	}
	for _, ev := range events {
		if ev["type"] == "sources" {
			t.Fatalf("sources must not follow a failed generation")
		}
	}
}

func TestQueryRAGRecordsMetrics(t *testing.T) {
	m := metrics.NewHTTPServerMetrics(metricsService)
	handler := NewRouter(testConfig(), &workflowFake{stream: &eventStreamFake{events: scenarioEvents()}}, nil, discardLogger(), m).Handler()

	postQuery(handler, `{"question":"x"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if !strings.Contains(res.Body.String(), `sumulas_rag_filtered_total{service="api",transport="sse"} 1`) {
		t.Fatalf("expected filtered counter in metrics output")
	}
}

func TestUploadDocumentQueuesFile(t *testing.T) {
	docs := &documentsFake{}
	handler := newTestHandler(testConfig(), &workflowFake{}, docs)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "Sumula_70.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte("%PDF-1.4")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	var rec map[string]any
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec["pdf_name"] != "Sumula_70.pdf" || rec["collection"] != "sumulas_jornada" || rec["status"] != "queued" {
		t.Fatalf("unexpected response: %+v", rec)
	}
	if docs.submitted["Sumula_70.pdf"] != "%PDF-1.4" {
		t.Fatalf("file body not forwarded")
	}
}

func TestUploadDocumentMissingMultipartField(t *testing.T) {
	handler := newTestHandler(testConfig(), &workflowFake{}, &documentsFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDocumentReturns404ForUnknownFile(t *testing.T) {
	docs := &documentsFake{statusErr: domain.WrapError(domain.ErrNotFound, "get ingestion", errors.New("c/missing.pdf"))}
	handler := newTestHandler(testConfig(), &workflowFake{}, docs)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing.pdf", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetDocumentUsesCollectionQuery(t *testing.T) {
	handler := newTestHandler(testConfig(), &workflowFake{}, &documentsFake{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/Sumula_70.pdf?collection=outra", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	var rec map[string]any
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec["collection"] != "outra" || rec["pdf_name"] != "Sumula_70.pdf" {
		t.Fatalf("unexpected response: %+v", rec)
	}
}

func TestDocumentsWithoutServiceReturn501(t *testing.T) {
	handler := newTestHandler(testConfig(), &workflowFake{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/a.pdf", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", res.Code)
	}
}

func TestHealthzSetsRequestID(t *testing.T) {
	handler := newTestHandler(testConfig(), &workflowFake{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("request id not echoed")
	}
}
