// Package pdfmeta pulls cheap structural metadata out of a submitted PDF
// before it is handed to the Parse Adapter. It is a thin wrapper over
// pdfcpu, kept separate from filetype so a page-count failure never blocks
// submission (it is recorded, not enforced).
package pdfmeta

import "github.com/pdfcpu/pdfcpu/pkg/api"

// PageCount returns the number of pages in the PDF at path. Callers treat
// a non-nil error as "unknown", not as a submission failure: the hard gates
// on the source PDF are its size and its magic bytes, not structural
// validity.
func PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}
