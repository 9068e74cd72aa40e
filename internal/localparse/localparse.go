// Package localparse is the local fallback PDF text-extraction engine used
// by the Parse Adapter when the remote MinerU-style service is unconfigured
// or fails before reaching terminal success.
package localparse

import (
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/local/deepreview/internal/pageindex"
)

// Extractor wraps go-fitz for local, tool-free PDF text extraction.
type Extractor struct{}

// New builds a local extractor. go-fitz links MuPDF statically in a cgo
// build; a build without cgo loads a system libmupdf at runtime instead.
// There is no external binary to probe for.
func New() *Extractor { return &Extractor{} }

// ParseLocal extracts per-page text from raw PDF bytes and synthesizes the
// markdown + content-list shape the rest of the system expects: a
// "## Page <n>" heading per page, and one content-list row per non-blank
// line tagged {page_idx, type: "text", text}. Page text is passed through
// as extracted; every non-blank line becomes a row.
func (e *Extractor) ParseLocal(pdfBytes []byte) (string, []pageindex.ContentRow, error) {
	tmp, err := os.CreateTemp("", "localparse-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("localparse: create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(pdfBytes); err != nil {
		tmp.Close()
		return "", nil, fmt.Errorf("localparse: write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", nil, fmt.Errorf("localparse: close temp pdf: %w", err)
	}

	doc, err := fitz.New(tmp.Name())
	if err != nil {
		return "", nil, fmt.Errorf("localparse: open pdf: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			text = ""
		}
		pages = append(pages, strings.TrimSpace(text))
	}

	markdown, rows := buildDocument(pages)
	return markdown, rows, nil
}

// buildDocument renders per-page text into the markdown and content-list
// shapes.
func buildDocument(pages []string) (string, []pageindex.ContentRow) {
	var md []string
	for i, text := range pages {
		md = append(md, fmt.Sprintf("## Page %d", i+1), "", text, "")
	}

	var rows []pageindex.ContentRow
	for i, text := range pages {
		for _, line := range strings.Split(text, "\n") {
			normalized := strings.TrimSpace(line)
			if normalized == "" {
				continue
			}
			rows = append(rows, pageindex.ContentRow{PageIdx: i, Type: "text", Text: normalized})
		}
	}

	return strings.TrimSpace(strings.Join(md, "\n")), rows
}
