package controller

import (
	"fmt"
	"strings"

	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/sections"
)

// buildSystemPrompt describes the tool suite and section requirements to
// the agent; the controller sends it as the system prompt of every attempt,
// including the forced-tool-choice ones.
func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an expert peer reviewer. You have tools to search and read the ")
	b.WriteString("submitted paper, record annotations bound to specific page/line spans, search ")
	b.WriteString("external literature for related work, and submit a structured final report.\n\n")
	b.WriteString("Work in two phases. Phase 1 (retrieval): use pdf_search/pdf_read_lines/pdf_jump ")
	b.WriteString("to understand the paper, paper_search/read_paper to check related work, and ")
	b.WriteString("pdf_annotate to record specific issues bound to page/line spans as you find them. ")
	b.WriteString("Phase 2 (report): call review_final_markdown_write once per required section, in ")
	b.WriteString("section mode (section_id + section_content). The report is only accepted once every ")
	b.WriteString("required section has been submitted and all configured gates are satisfied.\n\n")
	b.WriteString("Required sections, in order:\n")
	for i, d := range sections.Required {
		fmt.Fprintf(&b, "%d. %s (section_id=%q)\n", i+1, d.Title, d.ID)
	}
	return b.String()
}

// buildInitialMessage is the attempt-1 user turn: the paper title and a
// reminder of what's expected.
func buildInitialMessage(job *jobstore.Job) string {
	return fmt.Sprintf(
		"Begin reviewing the submitted paper %q (source file %q). Use your tools to "+
			"search the paper, record annotations, check related work, and then submit the "+
			"final report section by section via review_final_markdown_write.",
		job.Title, job.SourcePDFName,
	)
}

// buildContinuationMessage is issued on resumed attempts: it reports
// current counters verbatim and mandates section-mode submission without
// restarting Phase 1.
func buildContinuationMessage(job *jobstore.Job) string {
	return fmt.Sprintf(
		"Resume from where you left off. Do not restart retrieval (Phase 1). Your current "+
			"counters: tool_calls=%d, paper_search_calls=%d, distinct_paper_queries=%d, "+
			"annotations=%d. Your next tool call must be review_final_markdown_write in section "+
			"mode (section_id + section_content), submitting whichever required section is still "+
			"missing.",
		job.Usage.Tool.TotalCalls, job.Usage.PaperSearch.TotalCalls,
		job.Usage.PaperSearch.DistinctQueries, job.AnnotationCount,
	)
}

// buildForcedMessage is issued for the final, tool-choice-forced sub-attempt.
func buildForcedMessage(job *jobstore.Job) string {
	return buildContinuationMessage(job) + " You must call review_final_markdown_write now."
}
