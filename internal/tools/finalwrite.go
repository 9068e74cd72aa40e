package tools

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/sections"
	"github.com/local/deepreview/internal/toolruntime"
)

// FinalWriteParams is the normalized parameter record for
// review_final_markdown_write, modeling the dynamic-keyword-argument tool
// contract as a single struct with optional fields.
type FinalWriteParams struct {
	Markdown string

	// Legacy fielded sections.
	Summary     string
	Strengths   string
	Weaknesses  string
	Issues      string
	Suggestions string
	Storylines  string

	// Preferred section-mode pair.
	SectionID      string
	SectionContent any
	SectionTitle   string

	Source string
}

var legacyFieldToSection = map[string]string{
	"summary":     "summary",
	"strengths":   "strengths",
	"weaknesses":  "weaknesses",
	"issues":      "key_issues",
	"suggestions": "actionable_suggestions",
	"storylines":  "storyline_options_writing_outlines",
}

var leadingHeadingRE = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*$`)

// coerceSectionContent joins list-valued content as bullet lines, and
// coerces anything else to its string form.
func coerceSectionContent(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		lines := make([]string, len(val))
		for i, s := range val {
			lines[i] = "- " + s
		}
		return strings.Join(lines, "\n")
	case []any:
		lines := make([]string, 0, len(val))
		for _, item := range val {
			lines = append(lines, fmt.Sprintf("- %v", item))
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// stripLeadingSelfHeading removes a leading heading line if it names the
// same section.
func stripLeadingSelfHeading(sectionID, content string) string {
	lines := strings.SplitN(content, "\n", 2)
	m := leadingHeadingRE.FindStringSubmatch(lines[0])
	if m == nil {
		return content
	}
	if sections.ResolveID(m[1]) != sectionID {
		return content
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.TrimSpace(lines[1])
}

// ReviewFinalMarkdownWrite implements the critical review_final_markdown_write
// tool.
func ReviewFinalMarkdownWrite(rt *toolruntime.Runtime, p FinalWriteParams) Outcome {
	if rt.FinalMarkdown() != "" {
		_ = rt.Events.Append("final_report_write_ignored_after_commit", nil)
		return Ok("final report already committed", map[string]any{
			"task_completed":         true,
			"final_report_persisted": true,
		})
	}

	merged := map[string]string{}

	for field, id := range legacyFieldToSection {
		var raw string
		switch field {
		case "summary":
			raw = p.Summary
		case "strengths":
			raw = p.Strengths
		case "weaknesses":
			raw = p.Weaknesses
		case "issues":
			raw = p.Issues
		case "suggestions":
			raw = p.Suggestions
		case "storylines":
			raw = p.Storylines
		}
		if strings.TrimSpace(raw) != "" {
			merged[id] = raw
		}
	}

	if strings.TrimSpace(p.Markdown) != "" {
		for id, content := range sections.ExtractFromMarkdown(p.Markdown) {
			merged[id] = content
		}
	}

	newContentArrived := len(merged) > 0

	if p.SectionID != "" || p.SectionTitle != "" {
		token := p.SectionID
		if token == "" {
			token = p.SectionTitle
		}
		id := sections.ResolveID(token)
		if id == "" {
			return ErrOutcome("section_id_invalid", fmt.Sprintf("could not resolve section identity from %q", token), "review_final_markdown_write")
		}
		content := strings.TrimSpace(coerceSectionContent(p.SectionContent))
		content = stripLeadingSelfHeading(id, content)
		if content == "" {
			return ErrOutcome("section_content_required", fmt.Sprintf("section %q was named but content is empty", id), "review_final_markdown_write")
		}
		merged[id] = content
		newContentArrived = true
	}

	if !newContentArrived && len(rt.SectionDraft) == 0 {
		return ErrOutcome("section_payload_required", "no new content and no existing draft", "review_final_markdown_write")
	}

	for id, content := range merged {
		rt.SectionDraft[id] = content
	}
	if newContentArrived {
		rt.DraftVersion++
	}

	missingIDs := missingRequiredIDs(rt.SectionDraft)
	if len(missingIDs) > 0 {
		_ = persistDraftMetadata(rt)
		_ = rt.Events.Append("final_report_draft_saved", map[string]any{"draft_version": rt.DraftVersion, "missing": missingIDs})
		return Partial("required_sections_missing", "more required sections are needed before the final report can be committed",
			map[string]any{
				"completed_sections": completedSectionIDs(rt.SectionDraft),
				"missing_sections":   missingIDs,
				"next_required_section": map[string]string{"id": missingIDs[0], "title": sections.Title(missingIDs[0])},
				"draft_version":      rt.DraftVersion,
			},
			fmt.Sprintf("submit section_id=%s next", missingIDs[0]),
		)
	}

	if rt.Gates.Enabled {
		if rt.PaperSearchUsage.TotalCalls < rt.Gates.MinPaperSearchCallsForFinal {
			return ErrOutcome("paper_search_calls_not_met",
				fmt.Sprintf("need %d paper_search calls before final commit, have %d", rt.Gates.MinPaperSearchCallsForFinal, rt.PaperSearchUsage.TotalCalls),
				"paper_search",
				fmt.Sprintf("call paper_search %d more time(s), then retry review_final_markdown_write", rt.Gates.MinPaperSearchCallsForFinal-rt.PaperSearchUsage.TotalCalls))
		}
		if len(rt.PaperSearchUsage.Signatures) < rt.Gates.MinDistinctPaperQueriesForFinal {
			return ErrOutcome("paper_search_distinct_queries_not_met",
				fmt.Sprintf("need %d distinct paper-search queries, have %d", rt.Gates.MinDistinctPaperQueriesForFinal, len(rt.PaperSearchUsage.Signatures)),
				"paper_search",
				fmt.Sprintf("call paper_search with %d new distinct query/question(s), then retry review_final_markdown_write", rt.Gates.MinDistinctPaperQueriesForFinal-len(rt.PaperSearchUsage.Signatures)))
		}
		if len(rt.Annotations) < rt.Gates.MinAnnotationsForFinal {
			return ErrOutcome("annotation_count_not_met",
				fmt.Sprintf("need %d annotations before final commit, have %d", rt.Gates.MinAnnotationsForFinal, len(rt.Annotations)),
				"pdf_annotate",
				fmt.Sprintf("record %d more annotation(s) with pdf_annotate, then retry review_final_markdown_write", rt.Gates.MinAnnotationsForFinal-len(rt.Annotations)))
		}
	}

	assembled := sections.Assemble(rt.SectionDraft)

	validationErr := validateFinalReport(rt, assembled)
	if validationErr != nil {
		if rt.Gates.Enabled {
			return *validationErr
		}
		_ = rt.Events.Append("final_report_validation_skipped", map[string]any{"reason": validationErr.Reason})
	}

	artifactPath := rt.Store.ArtifactPath(rt.JobID, "final_report.md")
	if err := writeTextArtifact(artifactPath, assembled); err != nil {
		return ErrOutcome("internal_error", err.Error(), "review_final_markdown_write")
	}

	rt.SetFinalMarkdown(assembled)

	source := p.Source
	if source == "" {
		source = "agent"
	}
	_, err := rt.Sync(func(job *jobstore.Job) {
		job.FinalReportReady = true
		job.Artifacts.FinalMarkdown = artifactPath
		job.Metadata["final_report_source"] = source
		job.Metadata["final_report_draft_version"] = rt.DraftVersion
		job.Metadata["final_report_sections"] = copySectionMap(rt.SectionDraft)
	})
	if err != nil {
		return ErrOutcome("internal_error", err.Error(), "review_final_markdown_write")
	}

	_ = rt.Events.Append("final_report_persisted", map[string]any{"draft_version": rt.DraftVersion, "source": source})

	return Outcome{
		Status:  StatusOK,
		Message: "final report committed",
		Fields: map[string]any{
			"task_completed":         true,
			"final_report_persisted": true,
			"draft_version":          rt.DraftVersion,
		},
	}
}

func missingRequiredIDs(draft map[string]string) []string {
	var missing []string
	for _, d := range sections.Required {
		if strings.TrimSpace(draft[d.ID]) == "" {
			missing = append(missing, d.ID)
		}
	}
	return missing
}

func completedSectionIDs(draft map[string]string) []string {
	var out []string
	for _, d := range sections.Required {
		if strings.TrimSpace(draft[d.ID]) != "" {
			out = append(out, d.ID)
		}
	}
	return out
}

func copySectionMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func persistDraftMetadata(rt *toolruntime.Runtime) error {
	_, err := rt.Sync(func(job *jobstore.Job) {
		job.Metadata["draft_version"] = rt.DraftVersion
		job.Metadata["draft_sections"] = completedSectionIDs(rt.SectionDraft)
	})
	return err
}

// validateFinalReport runs the commit-time content validation, returning
// nil if validation passes.
func validateFinalReport(rt *toolruntime.Runtime, markdown string) *Outcome {
	if strings.TrimSpace(markdown) == "" {
		o := ErrOutcome("markdown_required", "assembled markdown is empty", "review_final_markdown_write")
		return &o
	}

	missing := sections.FindMissing(markdown)
	if len(missing) > 0 {
		o := ErrOutcome("final_report_sections_not_met", fmt.Sprintf("missing sections: %s", strings.Join(missing, ", ")), "review_final_markdown_write")
		return &o
	}

	profile := detectLanguage(markdown)
	if rt.Gates.ForceEnglishOutput && profile.ChineseChars > 0 {
		o := ErrOutcome("english_required", "final report must be in English", "review_final_markdown_write")
		return &o
	}

	if rt.Gates.MinEnglishWordsForFinal > 0 && profile.Primary == "en" && profile.EnglishWords < rt.Gates.MinEnglishWordsForFinal {
		o := ErrOutcome("final_report_length_not_met", fmt.Sprintf("need at least %d English words, have %d", rt.Gates.MinEnglishWordsForFinal, profile.EnglishWords), "review_final_markdown_write")
		return &o
	}
	if rt.Gates.MinChineseCharsForFinal > 0 && profile.Primary == "zh-CN" && profile.ChineseChars < rt.Gates.MinChineseCharsForFinal {
		o := ErrOutcome("final_report_length_not_met", fmt.Sprintf("need at least %d Chinese characters, have %d", rt.Gates.MinChineseCharsForFinal, profile.ChineseChars), "review_final_markdown_write")
		return &o
	}
	return nil
}
