package tools

import (
	"sort"
	"strings"

	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/pageindex"
	"github.com/local/deepreview/internal/toolruntime"
)

// StatusUpdate implements status_update(step, completed?, blocked?, todo?).
// Always returns ok and emits agent_status_update; no gating.
func StatusUpdate(rt *toolruntime.Runtime, step, completed, blocked, todo string) Outcome {
	rt.StatusUpdates = append(rt.StatusUpdates, toolruntime.StatusUpdate{
		Step: step, Completed: completed, Blocked: blocked, Todo: todo,
	})
	_, _ = rt.Sync(func(job *jobstore.Job) {
		job.Message = step
	})
	_ = rt.Events.Append("agent_status_update", map[string]any{"step": step, "completed": completed, "blocked": blocked, "todo": todo})
	return Ok("status recorded", nil)
}

// searchHit is one scored line match for pdf_search.
type searchHit struct {
	Page  int    `json:"page"`
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// PDFSearch implements pdf_search(query, top_k=8): scores page-indexed
// lines by case-insensitive whitespace-token count, with the full query
// as a substring fallback; returns up to clamp(top_k, 1, 50) hits sorted
// by score desc, then page asc, then line asc.
func PDFSearch(rt *toolruntime.Runtime, query string, topK int) Outcome {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrOutcome("empty_query", "query must not be empty", "pdf_search")
	}
	if topK <= 0 {
		topK = 8
	}
	if topK < 1 {
		topK = 1
	}
	if topK > 50 {
		topK = 50
	}

	tokens := strings.Fields(strings.ToLower(query))
	lowerQuery := strings.ToLower(query)

	flat := pageindex.Flatten(rt.PageIndex)
	var hits []searchHit
	for _, line := range flat {
		lowerText := strings.ToLower(line.Text)
		score := 0
		for _, tok := range tokens {
			score += strings.Count(lowerText, tok)
		}
		if score == 0 && strings.Contains(lowerText, lowerQuery) {
			score = 1
		}
		if score > 0 {
			hits = append(hits, searchHit{Page: line.Page, Line: line.Line, Text: line.Text, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Page != hits[j].Page {
			return hits[i].Page < hits[j].Page
		}
		return hits[i].Line < hits[j].Line
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	return Ok("search complete", map[string]any{"hits": hits, "count": len(hits)})
}

// PDFReadLines implements pdf_read_lines(page, start_line, end_line):
// inclusive 1-based range, clamped to [1, page_line_count].
func PDFReadLines(rt *toolruntime.Runtime, page, startLine, endLine int) Outcome {
	lines, ok := rt.PageIndex[page]
	if !ok {
		return ErrOutcome("page_not_found", "page not found in index", "pdf_read_lines")
	}
	n := len(lines)
	start := clamp(startLine, 1, n)
	end := clamp(endLine, 1, n)
	if start > end {
		start, end = end, start
	}
	selected := lines[start-1 : end]
	return Ok("lines read", map[string]any{"page": page, "start_line": start, "end_line": end, "lines": selected})
}

// PDFJump implements pdf_jump(page): line count and the first up to 8 lines.
func PDFJump(rt *toolruntime.Runtime, page int) Outcome {
	lines, ok := rt.PageIndex[page]
	if !ok {
		return ErrOutcome("page_not_found", "page not found in index", "pdf_jump")
	}
	preview := lines
	if len(preview) > 8 {
		preview = preview[:8]
	}
	return Ok("page located", map[string]any{"page": page, "line_count": len(lines), "preview_lines": preview})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
