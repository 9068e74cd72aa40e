package agent

// ToolSpec is one entry in the provider's `tools` array: name, a
// human-readable description, and a JSON-schema object describing its
// input. Defined as plain data so any provider client (only Anthropic is
// wired; see anthropic.go) can translate it into its own wire shape.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

func strProp(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func intProp(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }

func obj(required []string, props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props, "required": required}
}

// ToolSpecs returns the nine tool contracts in advertised order,
// matching ToolNames.
func ToolSpecs() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "status_update",
			Description: "Record a free-form progress note (plan, what's done, what's blocked, what's next). Always succeeds.",
			InputSchema: obj([]string{"step"}, map[string]any{
				"step":      strProp("Short description of the current step"),
				"completed": strProp("What was just completed, if anything"),
				"blocked":   strProp("What is blocking progress, if anything"),
				"todo":      strProp("What is planned next"),
			}),
		},
		{
			Name:        "pdf_search",
			Description: "Search the parsed paper's page-indexed text for a query and return scored line hits.",
			InputSchema: obj([]string{"query"}, map[string]any{
				"query": strProp("Search query"),
				"top_k": intProp("Max hits to return, clamped to [1,50]; default 8"),
			}),
		},
		{
			Name:        "pdf_read_lines",
			Description: "Read an inclusive 1-based line range from one page of the parsed paper.",
			InputSchema: obj([]string{"page", "start_line", "end_line"}, map[string]any{
				"page":       intProp("Page number"),
				"start_line": intProp("First line, 1-based"),
				"end_line":   intProp("Last line, 1-based, inclusive"),
			}),
		},
		{
			Name:        "pdf_jump",
			Description: "Jump to a page: get its line count and a short preview.",
			InputSchema: obj([]string{"page"}, map[string]any{"page": intProp("Page number")}),
		},
		{
			Name:        "pdf_annotate",
			Description: "Record a review annotation bound to a page/line span. Requires prior paper_search calls if gating is enabled.",
			InputSchema: obj([]string{"page", "start_line", "end_line", "comment"}, map[string]any{
				"page":        intProp("Page number"),
				"start_line":  intProp("First line, 1-based"),
				"end_line":    intProp("Last line, 1-based, inclusive"),
				"comment":     strProp("Reviewer comment, required"),
				"summary":     strProp("One-line summary of the annotation"),
				"object_type": map[string]any{"type": "string", "enum": []string{"issue", "suggestion", "verification"}, "description": "Defaults to suggestion"},
				"severity":    map[string]any{"type": "string", "enum": []string{"critical", "major", "minor"}, "description": "Optional"},
			}),
		},
		{
			Name:        "paper_search",
			Description: "Search external literature for related work. Accepts a query and/or up to 3 questions.",
			InputSchema: obj(nil, map[string]any{
				"query":         strProp("Search query"),
				"question_list": map[string]any{"description": "List of questions, a JSON-array string, or newline/bullet text"},
			}),
		},
		{
			Name:        "read_paper",
			Description: "Fetch abstract-level detail for one or more papers by id, url, or title.",
			InputSchema: obj([]string{"items"}, map[string]any{
				"items": map[string]any{"type": "array", "items": map[string]any{"type": "object"}, "description": "Each item names an id, url, or title"},
			}),
		},
		{
			Name:        "question_prompt",
			Description: "Ask the user a clarifying question. Not available in this deployment (no interactive channel); returns not_available.",
			InputSchema: obj([]string{"question"}, map[string]any{
				"question": strProp("The question"),
				"options":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}),
		},
		{
			Name:        "review_final_markdown_write",
			Description: "Submit one required section of the final report (preferred: section_id + section_content), or a full markdown document. Commits once every required section is present and all gates pass.",
			InputSchema: obj(nil, map[string]any{
				"markdown":        strProp("A full markdown document with headings per section"),
				"summary":         strProp("Legacy: summary section content"),
				"strengths":       strProp("Legacy: strengths section content"),
				"weaknesses":      strProp("Legacy: weaknesses section content"),
				"issues":          strProp("Legacy: key_issues section content"),
				"suggestions":     strProp("Legacy: actionable_suggestions section content"),
				"storylines":      strProp("Legacy: storyline_options_writing_outlines section content"),
				"section_id":      strProp("Canonical section id, e.g. summary, strengths, scores"),
				"section_content": map[string]any{"description": "Markdown content for section_id, or a list of bullet items"},
				"section_title":   strProp("Section title, used to resolve section_id if section_id is omitted"),
				"source":          strProp("Free-form tag recorded as final_report_source"),
			}),
		},
	}
}
