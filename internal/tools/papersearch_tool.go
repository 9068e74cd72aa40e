package tools

import (
	"context"
	"strings"

	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/metrics"
	"github.com/local/deepreview/internal/papersearch"
	"github.com/local/deepreview/internal/toolruntime"
)

func normalizeSignature(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func addSignature(usage *jobstore.PaperSearchUsage, s string) {
	if sig := normalizeSignature(s); sig != "" {
		usage.Signatures[sig] = struct{}{}
	}
}

// PaperSearch implements the gated-free but usage-tracked paper_search tool.
func PaperSearch(ctx context.Context, rt *toolruntime.Runtime, query string, rawQuestionList any) Outcome {
	questions := papersearch.NormalizeQuestionList(rawQuestionList)

	rt.PaperSearchUsage.TotalCalls++

	result, err := rt.PaperSearch.Search(ctx, query, questions)
	if err != nil {
		metrics.PaperSearchCall("failed")
		_, _ = rt.Sync(nil)
		return Outcome{
			Status: StatusError, Reason: "paper_search_request_failed", Message: err.Error(),
			RetryRequired: true, RetryTool: "paper_search",
			Fields: map[string]any{"usage": paperSearchSnapshot(rt)},
		}
	}

	if result.Success {
		rt.PaperSearchUsage.SuccessfulCalls++
		count := result.Count
		if count == 0 {
			count = len(result.Papers)
		}
		if count == 0 {
			for _, qr := range result.QuestionResults {
				count += qr.Count
			}
		}
		if count > 0 {
			rt.PaperSearchUsage.EffectiveCalls++
			rt.PaperSearchUsage.PapersFound += count
			metrics.PaperSearchCall("effective")
		} else {
			metrics.PaperSearchCall("successful")
		}
	} else {
		metrics.PaperSearchCall("failed")
	}

	addSignature(&rt.PaperSearchUsage, query)
	for _, q := range questions {
		addSignature(&rt.PaperSearchUsage, q)
	}
	for _, q := range result.Questions {
		addSignature(&rt.PaperSearchUsage, q)
	}
	for _, qr := range result.QuestionResults {
		addSignature(&rt.PaperSearchUsage, qr.Question)
	}

	_, _ = rt.Sync(nil)
	_ = rt.Events.Append("paper_search_called", map[string]any{"query": query, "provider": result.Provider, "count": result.Count})

	canStart := !rt.Gates.Enabled || rt.PaperSearchUsage.TotalCalls >= rt.Gates.MinPaperSearchCallsForPDFAnnotate
	nextAction := "continue_paper_search"
	if canStart {
		nextAction = "start_pdf_annotate"
	}

	return Ok("paper search complete", map[string]any{
		"success":            result.Success,
		"provider":           result.Provider,
		"query":              result.Query,
		"questions":          result.Questions,
		"papers":             result.Papers,
		"count":              result.Count,
		"question_results":   result.QuestionResults,
		"usage":              paperSearchSnapshot(rt),
		"can_start_pdf_annotate": canStart,
		"next_action":        nextAction,
	})
}

func paperSearchSnapshot(rt *toolruntime.Runtime) map[string]any {
	return map[string]any{
		"total_calls":      rt.PaperSearchUsage.TotalCalls,
		"successful_calls": rt.PaperSearchUsage.SuccessfulCalls,
		"effective_calls":  rt.PaperSearchUsage.EffectiveCalls,
		"papers_found":     rt.PaperSearchUsage.PapersFound,
		"distinct_queries": len(rt.PaperSearchUsage.Signatures),
	}
}

// ReadPaper implements read_paper(items): delegates to the adapter; no gating.
func ReadPaper(ctx context.Context, rt *toolruntime.Runtime, items []map[string]any) Outcome {
	if len(items) == 0 {
		return ErrOutcome("empty_items", "items must not be empty", "read_paper")
	}
	result, err := rt.PaperSearch.ReadPapers(ctx, items)
	if err != nil {
		return ErrOutcome("paper_search_request_failed", err.Error(), "read_paper")
	}
	return Ok("papers read", map[string]any{"success": result.Success, "items": result.Items, "count": result.Count, "provider": result.Provider})
}

// QuestionPrompt implements question_prompt: always not_available in this
// deployment, since there is no interactive channel.
func QuestionPrompt(question string, options []string) Outcome {
	return NotAvailable("no interactive channel is available in this deployment; proceed using best judgment")
}
