package localfs

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

func TestSaveWritesUnderBasePath(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	path, err := s.Save(context.Background(), "../../Sumula_70.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if path != filepath.Join(base, "Sumula_70.pdf") {
		t.Fatalf("unexpected path: %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(raw) != "%PDF-1.4" {
		t.Fatalf("unexpected content: %q", raw)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"b.pdf", "A.PDF", "notes.md", "data.xlsx", ".hidden.pdf", "c.txt"} {
		if err := os.WriteFile(filepath.Join(base, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(base, "dir.pdf"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	s, err := New(base)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	files, err := s.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{
		filepath.Join(base, "A.PDF"),
		filepath.Join(base, "b.pdf"),
		filepath.Join(base, "c.txt"),
		filepath.Join(base, "notes.md"),
	}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestListEmptyFolder(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	files, err := s.List(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %v", files)
	}
}

func TestListMissingFolder(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	_, err = s.List(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
