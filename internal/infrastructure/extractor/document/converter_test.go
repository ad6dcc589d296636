package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestConvertPlainTextNormalizesWhitespace(t *testing.T) {
	path := writeFile(t, "sumula.txt", []byte("SÚMULA Nº 70\r\n\r\n\r\n\r\n  É   vedada\ta contratação.  \n"))

	text, err := NewConverter().Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	want := "SÚMULA Nº 70\n\nÉ vedada a contratação."
	if text != want {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestConvertMarkdown(t *testing.T) {
	path := writeFile(t, "notas.MD", []byte("# Súmula 12\n"))

	text, err := NewConverter().Convert(context.Background(), path)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if text != "# Súmula 12" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestConvertRejectsBinaryText(t *testing.T) {
	path := writeFile(t, "bad.txt", []byte{0xff, 0xfe, 0x00})

	_, err := NewConverter().Convert(context.Background(), path)
	if !domain.IsKind(err, domain.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}

func TestConvertRejectsUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "planilha.xlsx", []byte("x"))

	_, err := NewConverter().Convert(context.Background(), path)
	if !domain.IsKind(err, domain.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}

func TestConvertBrokenPDFIsConversionError(t *testing.T) {
	path := writeFile(t, "Sumula_1.pdf", []byte("not a pdf at all"))

	_, err := NewConverter().Convert(context.Background(), path)
	if !domain.IsKind(err, domain.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}

func TestConvertMissingFile(t *testing.T) {
	_, err := NewConverter().Convert(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	if !domain.IsKind(err, domain.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}
