package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWrapLinesBreaksLongLinesOnWordBoundary(t *testing.T) {
	long := strings.Repeat("word ", 30)
	out := wrapLines(long, 20)
	for _, l := range out {
		if len(l) > 20 {
			t.Fatalf("line exceeds width: %q", l)
		}
	}
	if len(out) < 2 {
		t.Fatalf("expected the long line to wrap into multiple lines, got %d", len(out))
	}
}

func TestWrapLinesPreservesBlankLines(t *testing.T) {
	out := wrapLines("first\n\nsecond", 80)
	if len(out) != 3 || out[1] != "" {
		t.Fatalf("expected a preserved blank line between first and second, got %#v", out)
	}
}

func TestPaginateSplitsIntoFixedSizePages(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}
	pages := paginate(lines, 2)
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	if len(pages[0]) != 2 || len(pages[2]) != 1 {
		t.Fatalf("unexpected page sizes: %#v", pages)
	}
}

func TestEscapePDFTextEscapesSpecialChars(t *testing.T) {
	got := escapePDFText(`(hello) \ world`)
	want := `\(hello\) \\ world`
	if got != want {
		t.Fatalf("escapePDFText = %q, want %q", got, want)
	}
}

func TestSimpleExporterProducesValidPDFStructure(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "final_report.pdf")

	e := NewSimpleExporter()
	markdown := "# Summary\n" + strings.Repeat("This is a long review sentence. ", 200)
	if err := e.Export(markdown, outPath); err != nil {
		t.Fatalf("Export: %v", err)
	}

	b, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading exported pdf: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-1.4")) {
		t.Fatal("expected the file to start with the PDF header")
	}
	if !bytes.Contains(b, []byte("%%EOF")) {
		t.Fatal("expected the file to contain an EOF marker")
	}
	if !bytes.Contains(b, []byte("/Type /Catalog")) {
		t.Fatal("expected a Catalog object")
	}
}

func TestSimpleExporterHandlesEmptyMarkdown(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "empty.pdf")

	e := NewSimpleExporter()
	if err := e.Export("", outPath); err != nil {
		t.Fatalf("Export on empty markdown should still produce a valid single blank page: %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}
}
