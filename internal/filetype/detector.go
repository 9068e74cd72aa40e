// Package filetype performs magic-byte detection of the submitted source
// file, narrowed from a multi-format office/PDF detector down to the one
// check a submission actually needs: is it a PDF. Nothing here converts
// office documents, so the OOXML/OLE disambiguation needed to route
// DOCX/XLSX/PPTX through a converter has no job and was dropped.
package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// Info is the detection result for one file.
type Info struct {
	MIMEType  string
	Extension string
	IsPDF     bool
}

// Detector wraps mimetype's magic-byte sniffing.
type Detector struct{}

// New builds a detector. Stateless; safe to share.
func New() *Detector { return &Detector{} }

// Detect sniffs filePath's actual type from its bytes, not its name.
func (d *Detector) Detect(filePath string) (*Info, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("filetype: detect %s: %w", filePath, err)
	}
	info := &Info{MIMEType: mtype.String(), Extension: mtype.Extension()}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/pdf") {
			info.IsPDF = true
			break
		}
	}
	return info, nil
}

// IsPDF is a one-shot convenience wrapper around Detect for the submit-path
// validation gate.
func IsPDF(filePath string) (bool, error) {
	info, err := New().Detect(filePath)
	if err != nil {
		return false, err
	}
	return info.IsPDF, nil
}
