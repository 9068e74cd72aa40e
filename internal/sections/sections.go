// Package sections implements the canonical section identity,
// normalization, and assembly logic shared by the final-write tool and the
// commit-time section validation.
package sections

import (
	"regexp"
	"strings"
)

// Def is one required section's identity: its canonical id, display title,
// and the fixed-order alias list used for substring-containment matching.
type Def struct {
	ID      string
	Title   string
	Aliases []string
}

// Required is the fixed, ordered list of the eleven required sections.
// Order here is the canonical commit order.
var Required = []Def{
	{ID: "summary", Title: "Summary", Aliases: []string{"summary", "overview", "tldr"}},
	{ID: "strengths", Title: "Strengths", Aliases: []string{"strengths", "strength", "pros"}},
	{ID: "weaknesses", Title: "Weaknesses", Aliases: []string{"weaknesses", "weakness", "cons", "limitations"}},
	{ID: "key_issues", Title: "Key Issues", Aliases: []string{"key issues", "issues", "major issues", "critical issues"}},
	{ID: "actionable_suggestions", Title: "Actionable Suggestions", Aliases: []string{"actionable suggestions", "suggestions", "recommendations"}},
	{ID: "storyline_options_writing_outlines", Title: "Storyline Options + Writing Outlines", Aliases: []string{"storyline options writing outlines", "storyline options", "writing outlines", "storylines"}},
	{ID: "priority_revision_plan", Title: "Priority Revision Plan", Aliases: []string{"priority revision plan", "revision plan", "priorities"}},
	{ID: "experiment_inventory_research_experiment_plan", Title: "Experiment Inventory & Research Experiment Plan", Aliases: []string{"experiment inventory research experiment plan", "experiment inventory", "research experiment plan", "experiments"}},
	{ID: "novelty_verification_related_work_matrix", Title: "Novelty Verification & Related-Work Matrix", Aliases: []string{"novelty verification related work matrix", "novelty verification", "related work matrix", "related work"}},
	{ID: "references", Title: "References", Aliases: []string{"references", "bibliography", "citations"}},
	{ID: "scores", Title: "Scores", Aliases: []string{"scores", "score", "ratings"}},
}

var nonAlnumRE = regexp.MustCompile(`[^0-9a-z\s]`)
var wsRE = regexp.MustCompile(`\s+`)

// Normalize canonicalizes a raw token for section-id matching: lowercase;
// "&" -> " and "; "+", ",", "\", "_", "-" -> space; strip remaining
// non-alphanumerics; collapse whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	for _, ch := range []string{"+", ",", "\\", "_", "-"} {
		s = strings.ReplaceAll(s, ch, " ")
	}
	s = nonAlnumRE.ReplaceAllString(s, "")
	s = wsRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ResolveID resolves a raw section_id/section_title token to a canonical
// section id, or "" if unresolved. Exact match against id/title/alias wins
// first; otherwise the first alias (in fixed declaration order) contained
// as a substring in the normalized token wins, which is what makes
// "Strengths and Weaknesses" resolve to "strengths".
func ResolveID(raw string) string {
	norm := Normalize(raw)
	if norm == "" {
		return ""
	}
	for _, d := range Required {
		if norm == d.ID || norm == Normalize(d.Title) {
			return d.ID
		}
		for _, alias := range d.Aliases {
			if norm == Normalize(alias) {
				return d.ID
			}
		}
	}
	for _, d := range Required {
		for _, alias := range d.Aliases {
			if strings.Contains(norm, Normalize(alias)) {
				return d.ID
			}
		}
	}
	return ""
}

// Title returns the display title for a canonical id, or "" if unknown.
func Title(id string) string {
	for _, d := range Required {
		if d.ID == id {
			return d.Title
		}
	}
	return ""
}

var headingRE = regexp.MustCompile(`(?m)^\s{0,3}(#{1,6})\s+(.+?)\s*$`)

// ExtractFromMarkdown scans `#{1,6} <title>` headings; any recognized
// heading opens a new section and content lines accumulate until the next
// heading. Unrecognized headings and their content are ignored.
func ExtractFromMarkdown(text string) map[string]string {
	out := map[string]string{}
	locs := headingRE.FindAllStringSubmatchIndex(text, -1)
	matches := headingRE.FindAllStringSubmatch(text, -1)
	for i, loc := range locs {
		id := ResolveID(matches[i][2])
		if id == "" {
			continue
		}
		start := loc[1]
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		content := strings.TrimSpace(text[start:end])
		if content == "" {
			continue
		}
		if existing, ok := out[id]; ok {
			out[id] = existing + "\n\n" + content
		} else {
			out[id] = content
		}
	}
	return out
}

// Assemble emits "## <Title>" followed by section content for each
// required section id in canonical order, skipping empty sections, joined
// by a blank line.
func Assemble(sectionContent map[string]string) string {
	var parts []string
	for _, d := range Required {
		content := strings.TrimSpace(sectionContent[d.ID])
		if content == "" {
			continue
		}
		parts = append(parts, "## "+d.Title+"\n\n"+content)
	}
	return strings.Join(parts, "\n\n")
}

// MissingGroup is the coarser label/alias table used only by commit-time
// validation (find_missing), deliberately distinct from Required's
// section-id-resolution table.
type MissingGroup struct {
	Label   string
	Aliases []string
}

// Each group carries both English and Chinese aliases: the final report may
// legitimately be written in Chinese when force_english_output is off, and
// its headings must still satisfy section validation.
var missingGroups = []MissingGroup{
	{Label: "Summary", Aliases: []string{"summary", "overview", "摘要", "总结"}},
	{Label: "Strengths", Aliases: []string{"strength", "pro", "优点", "优势"}},
	{Label: "Weaknesses", Aliases: []string{"weakness", "limitation", "con", "缺点", "问题"}},
	{Label: "Key Issues", Aliases: []string{"key issue", "major issue", "critical issue", "核心问题", "关键问题"}},
	{Label: "Actionable Suggestions", Aliases: []string{"suggestion", "recommendation", "建议", "可执行建议"}},
	{Label: "Storyline Options + Writing Outlines", Aliases: []string{"storyline", "writing outline", "叙事方案", "写作提纲"}},
	{Label: "Priority Revision Plan", Aliases: []string{"revision plan", "priorit", "修订计划", "优先级修订计划"}},
	{Label: "Experiment Inventory & Research Experiment Plan", Aliases: []string{"experiment inventory", "research experiment plan", "experiment", "实验清单", "研究实验计划"}},
	{Label: "Novelty Verification & Related-Work Matrix", Aliases: []string{"novelty verification", "related work", "related-work", "新颖性验证", "相关工作矩阵"}},
	{Label: "References", Aliases: []string{"reference", "bibliography", "citation", "参考文献"}},
	{Label: "Scores", Aliases: []string{"score", "rating", "final score", "评分", "最终评分"}},
}

// FindMissing returns an ordered list of missing section labels using a
// coarser heading-substring scan over its own label/alias table, distinct
// from section-id resolution. Headings are only lowercased and trimmed, not
// run through Normalize, which would strip the CJK aliases. If the document
// has no #-prefixed headings at all, every label is reported missing.
func FindMissing(markdown string) []string {
	var headings []string
	for _, line := range strings.Split(markdown, "\n") {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, "#") {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(strings.TrimLeft(stripped, "#")))
		if text != "" {
			headings = append(headings, text)
		}
	}

	var missing []string
	for _, g := range missingGroups {
		found := false
		for _, h := range headings {
			for _, alias := range g.Aliases {
				if strings.Contains(h, alias) {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			missing = append(missing, g.Label)
		}
	}
	return missing
}
