package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

const schemaLockKey int64 = 2026101501

// IngestionRepository keeps the latest ingestion outcome per collection and
// source file.
type IngestionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewIngestionRepository(db *sql.DB) *IngestionRepository {
	return &IngestionRepository{db: db, now: time.Now}
}

func (r *IngestionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// api and worker may start together
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS sumula_ingestions (
	collection TEXT NOT NULL,
	pdf_name TEXT NOT NULL,
	num_sumula TEXT NOT NULL DEFAULT '',
	status_atual TEXT NOT NULL DEFAULT '',
	chunks INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, pdf_name)
);

CREATE INDEX IF NOT EXISTS idx_sumula_ingestions_status ON sumula_ingestions(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Save inserts or replaces the record of one source file. Metadata already
// known from an earlier run is kept when the new record leaves it empty.
func (r *IngestionRepository) Save(ctx context.Context, rec domain.IngestionRecord) error {
	if rec.Collection == "" || rec.PDFName == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save ingestion", errors.New("collection and pdf_name are required"))
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = r.now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO sumula_ingestions (
	collection, pdf_name, num_sumula, status_atual, chunks, status, error_message, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (collection, pdf_name) DO UPDATE SET
	num_sumula = COALESCE(NULLIF(EXCLUDED.num_sumula, ''), sumula_ingestions.num_sumula),
	status_atual = COALESCE(NULLIF(EXCLUDED.status_atual, ''), sumula_ingestions.status_atual),
	chunks = EXCLUDED.chunks,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	updated_at = EXCLUDED.updated_at
`,
		rec.Collection, rec.PDFName, rec.NumSumula, rec.StatusAtual, rec.Chunks,
		string(rec.Status), rec.Error, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert ingestion: %w", err)
	}
	return nil
}

func (r *IngestionRepository) Get(ctx context.Context, collection, pdfName string) (*domain.IngestionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT collection, pdf_name, num_sumula, status_atual, chunks, status, error_message, updated_at
FROM sumula_ingestions
WHERE collection = $1 AND pdf_name = $2
`, collection, pdfName)

	var rec domain.IngestionRecord
	var status string
	err := row.Scan(
		&rec.Collection, &rec.PDFName, &rec.NumSumula, &rec.StatusAtual,
		&rec.Chunks, &status, &rec.Error, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ingestion", fmt.Errorf("%s/%s", collection, pdfName))
		}
		return nil, fmt.Errorf("scan ingestion: %w", err)
	}
	rec.Status = domain.IngestionStatus(status)
	return &rec, nil
}
