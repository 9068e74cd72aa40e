package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/toolruntime"
)

// PDFAnnotate implements the gated pdf_annotate tool.
func PDFAnnotate(rt *toolruntime.Runtime, page, startLine, endLine int, comment, summary, objectType, severity string) Outcome {
	if rt.Gates.Enabled && rt.PaperSearchUsage.TotalCalls < rt.Gates.MinPaperSearchCallsForPDFAnnotate {
		return ErrOutcome("paper_search_calls_not_met",
			fmt.Sprintf("need at least %d paper_search calls before annotating, have %d", rt.Gates.MinPaperSearchCallsForPDFAnnotate, rt.PaperSearchUsage.TotalCalls),
			"paper_search",
			fmt.Sprintf("call paper_search %d more time(s), then retry pdf_annotate", rt.Gates.MinPaperSearchCallsForPDFAnnotate-rt.PaperSearchUsage.TotalCalls))
	}

	lines, ok := rt.PageIndex[page]
	if !ok || len(lines) == 0 {
		return ErrOutcome("page_not_found", fmt.Sprintf("page %d not found", page), "pdf_annotate")
	}
	n := len(lines)
	startLine = clamp(startLine, 1, n)
	endLine = clamp(endLine, 1, n)
	if startLine > endLine {
		return ErrOutcome("empty_span", "line range is empty after clamping", "pdf_annotate")
	}
	text := strings.TrimSpace(strings.Join(lines[startLine-1:endLine], "\n"))
	if text == "" {
		return ErrOutcome("empty_span", "selected span is empty; choose a valid line range", "pdf_annotate")
	}
	if strings.TrimSpace(comment) == "" {
		return ErrOutcome("comment_required", "comment must not be empty", "pdf_annotate")
	}

	if objectType == "" {
		objectType = "suggestion"
	}

	ann := jobstore.Annotation{
		ID: uuid.NewString(), Page: page, StartLine: startLine, EndLine: endLine,
		Text: text, Comment: comment, Summary: summary, ObjectType: objectType,
		Severity: severity, CreatedAt: time.Now().UTC(),
	}
	rt.Annotations = append(rt.Annotations, ann)

	if err := persistAnnotations(rt); err != nil {
		return ErrOutcome("internal_error", err.Error(), "pdf_annotate")
	}

	count := len(rt.Annotations)
	_, err := rt.Sync(nil)
	if err != nil {
		return ErrOutcome("internal_error", err.Error(), "pdf_annotate")
	}
	_ = rt.Events.Append("agent_annotation_added", map[string]any{"annotation_id": ann.ID, "page": page})

	return Ok(progressMessage(count, rt.Gates.MinAnnotationsForFinal), map[string]any{
		"annotation_id":          ann.ID,
		"annotation_count":       count,
		"recommended_min":        12,
		"recommended_max":        25,
		"min_annotations_for_final": rt.Gates.MinAnnotationsForFinal,
	})
}

func progressMessage(count, minRequired int) string {
	if minRequired <= 0 {
		return fmt.Sprintf("%d annotation(s) recorded", count)
	}
	if count >= minRequired {
		return fmt.Sprintf("%d annotation(s) recorded, minimum of %d met", count, minRequired)
	}
	return fmt.Sprintf("%d annotation(s) recorded, %d more needed to reach the minimum of %d", count, minRequired-count, minRequired)
}

type annotationsArtifact struct {
	Annotations []jobstore.Annotation `json:"annotations"`
	Count       int                   `json:"count"`
}

func persistAnnotations(rt *toolruntime.Runtime) error {
	artifact := annotationsArtifact{Annotations: rt.Annotations, Count: len(rt.Annotations)}
	return writeJSONArtifact(rt.Store.ArtifactPath(rt.JobID, "annotations.json"), artifact)
}
