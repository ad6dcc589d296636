package domain

import "time"

type IngestionStatus string

const (
	IngestionQueued     IngestionStatus = "queued"
	IngestionProcessing IngestionStatus = "processing"
	IngestionDone       IngestionStatus = "ingested"
	IngestionFailed     IngestionStatus = "failed"
)

// IngestionRecord is the ledger row kept per source file.
type IngestionRecord struct {
	PDFName     string          `json:"pdf_name"`
	Collection  string          `json:"collection"`
	NumSumula   string          `json:"num_sumula,omitempty"`
	StatusAtual string          `json:"status_atual,omitempty"`
	Chunks      int             `json:"chunks"`
	Status      IngestionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IngestionRequest asks a worker to ingest one stored source file.
type IngestionRequest struct {
	Collection string `json:"collection"`
	Path       string `json:"path"`
}

type IngestionSummary struct {
	Files     int `json:"files"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Chunks    int `json:"chunks"`
}
