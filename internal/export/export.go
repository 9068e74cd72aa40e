// Package export produces the composite report PDF from the committed
// final-report markdown. The full report layout pipeline (annotation
// overlays, font management, page compositing against the source PDF) is
// explicitly out of scope: this package only needs to satisfy the
// controller's export contract, so it emits a minimal, valid, paginated
// plain-text rendering of the final markdown rather than reproducing the
// external PDF builder. Submitted-PDF metadata is probed with
// pdfcpu instead; exporting is kept deliberately separate so that a real
// rendering pipeline can be swapped in later behind the same Exporter
// interface without touching the controller.
package export

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/local/deepreview/internal/jobstore"
)

// Exporter turns a committed final markdown into a report PDF on disk.
type Exporter interface {
	Export(markdown string, outPath string) error
}

// SimpleExporter is the minimal stand-in described above.
type SimpleExporter struct{}

func NewSimpleExporter() *SimpleExporter { return &SimpleExporter{} }

const (
	pageWidth  = 612.0 // US Letter, points
	pageHeight = 792.0
	marginX    = 54.0
	marginTop  = 742.0
	lineHeight = 14.0
	fontSize   = 10
	maxChars   = 92
	linesPerPg = int(marginTop-50) / int(lineHeight)
)

// Export wraps markdown into fixed-width lines, paginates them, and writes
// a minimal single-font PDF using raw PDF object syntax.
func (e *SimpleExporter) Export(markdown string, outPath string) error {
	pages := paginate(wrapLines(markdown, maxChars), linesPerPg)
	if len(pages) == 0 {
		pages = [][]string{{""}}
	}
	return writePDF(pages, outPath)
}

func wrapLines(text string, width int) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			out = append(out, "")
			continue
		}
		for len(line) > width {
			cut := strings.LastIndex(line[:width], " ")
			if cut <= 0 {
				cut = width
			}
			out = append(out, line[:cut])
			line = strings.TrimLeft(line[cut:], " ")
		}
		out = append(out, line)
	}
	return out
}

func paginate(lines []string, perPage int) [][]string {
	if perPage <= 0 {
		perPage = 1
	}
	var pages [][]string
	for i := 0; i < len(lines); i += perPage {
		end := i + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[i:end])
	}
	return pages
}

func escapePDFText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `(`, `\(`)
	s = strings.ReplaceAll(s, `)`, `\)`)
	return s
}

// writePDF emits the smallest valid multi-page PDF that encodes each page's
// lines as Helvetica text, tracking byte offsets for a correct xref table.
func writePDF(pages [][]string, outPath string) error {
	var buf bytes.Buffer
	offsets := make([]int, 0, len(pages)*2+3)

	write := func(s string) { buf.WriteString(s) }
	mark := func() { offsets = append(offsets, buf.Len()) }

	write("%PDF-1.4\n")

	numPages := len(pages)
	fontObj := 2
	catalogObj := 1
	pagesObj := numPages*2 + 3

	mark() // object 1: Catalog
	write(fmt.Sprintf("%d 0 obj\n<< /Type /Catalog /Pages %d 0 R >>\nendobj\n", catalogObj, pagesObj))

	mark() // object 2: Font
	write(fmt.Sprintf("%d 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n", fontObj))

	pageObjIDs := make([]int, numPages)
	for i, lines := range pages {
		contentObj := 3 + i*2
		pageObj := 4 + i*2
		pageObjIDs[i] = pageObj

		var content bytes.Buffer
		content.WriteString("BT\n")
		content.WriteString(fmt.Sprintf("/F1 %d Tf\n", fontSize))
		content.WriteString(fmt.Sprintf("%.1f TL\n", lineHeight))
		content.WriteString(fmt.Sprintf("%.1f %.1f Td\n", marginX, marginTop))
		for j, line := range lines {
			if j > 0 {
				content.WriteString("T*\n")
			}
			content.WriteString(fmt.Sprintf("(%s) Tj\n", escapePDFText(line)))
		}
		content.WriteString("ET\n")

		mark() // content stream object
		write(fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n", contentObj, content.Len(), content.String()))

		mark() // page object
		write(fmt.Sprintf(
			"%d 0 obj\n<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %.0f %.0f] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>\nendobj\n",
			pageObj, pagesObj, pageWidth, pageHeight, fontObj, contentObj))
	}

	mark() // Pages object
	kids := make([]string, numPages)
	for i, id := range pageObjIDs {
		kids[i] = fmt.Sprintf("%d 0 R", id)
	}
	write(fmt.Sprintf("%d 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", pagesObj, strings.Join(kids, " "), numPages))

	xrefStart := buf.Len()
	totalObjs := len(offsets) + 1
	write(fmt.Sprintf("xref\n0 %d\n", totalObjs))
	write("0000000000 65535 f \n")
	for _, off := range offsets {
		write(fmt.Sprintf("%010d 00000 n \n", off))
	}
	write(fmt.Sprintf("trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", totalObjs, catalogObj, xrefStart))

	return jobstore.AtomicWriteFile(outPath, buf.Bytes())
}
