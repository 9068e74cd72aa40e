package agent

// This file binds the nine tool contracts to the JSON argument blobs a
// tool-calling agent emits, turning each into a typed call into the
// internal/tools package and flattening the resulting Outcome back to JSON
// for the provider's tool-result message.

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/local/deepreview/internal/tools"
	"github.com/local/deepreview/internal/toolruntime"
)

// ToolNames lists the nine tool contracts in the fixed order they are
// advertised to the provider.
var ToolNames = []string{
	"status_update",
	"pdf_search",
	"pdf_read_lines",
	"pdf_jump",
	"pdf_annotate",
	"paper_search",
	"read_paper",
	"question_prompt",
	"review_final_markdown_write",
}

// Dispatch routes one tool call to its handler and returns the JSON bytes
// to send back to the provider as the tool-result content, along with the
// Outcome status for caller-side bookkeeping (metrics, logging).
func Dispatch(ctx context.Context, rt *toolruntime.Runtime, name string, rawArgs json.RawMessage) (json.RawMessage, tools.OutcomeStatus) {
	rt.RecordToolCall(name)
	outcome := dispatchOne(ctx, rt, name, rawArgs)
	b, err := json.Marshal(outcome)
	if err != nil {
		b, _ = json.Marshal(map[string]any{"status": "error", "reason": "internal_error", "message": err.Error()})
	}
	return b, outcome.Status
}

func dispatchOne(ctx context.Context, rt *toolruntime.Runtime, name string, rawArgs json.RawMessage) tools.Outcome {
	switch name {
	case "status_update":
		var a struct {
			Step      string `json:"step"`
			Completed string `json:"completed"`
			Blocked   string `json:"blocked"`
			Todo      string `json:"todo"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		return tools.StatusUpdate(rt, a.Step, a.Completed, a.Blocked, a.Todo)

	case "pdf_search":
		var a struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		if a.TopK == 0 {
			a.TopK = 8
		}
		return tools.PDFSearch(rt, a.Query, a.TopK)

	case "pdf_read_lines":
		var a struct {
			Page      int `json:"page"`
			StartLine int `json:"start_line"`
			EndLine   int `json:"end_line"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		return tools.PDFReadLines(rt, a.Page, a.StartLine, a.EndLine)

	case "pdf_jump":
		var a struct {
			Page int `json:"page"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		return tools.PDFJump(rt, a.Page)

	case "pdf_annotate":
		var a struct {
			Page       int    `json:"page"`
			StartLine  int    `json:"start_line"`
			EndLine    int    `json:"end_line"`
			Comment    string `json:"comment"`
			Summary    string `json:"summary"`
			ObjectType string `json:"object_type"`
			Severity   string `json:"severity"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		if a.ObjectType == "" {
			a.ObjectType = "suggestion"
		}
		return tools.PDFAnnotate(rt, a.Page, a.StartLine, a.EndLine, a.Comment, a.Summary, a.ObjectType, a.Severity)

	case "paper_search":
		var a struct {
			Query        string `json:"query"`
			QuestionList any    `json:"question_list"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		return tools.PaperSearch(ctx, rt, a.Query, a.QuestionList)

	case "read_paper":
		var a struct {
			Items []map[string]any `json:"items"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		return tools.ReadPaper(ctx, rt, a.Items)

	case "question_prompt":
		var a struct {
			Question string   `json:"question"`
			Options  []string `json:"options"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		return tools.QuestionPrompt(a.Question, a.Options)

	case "review_final_markdown_write":
		var a struct {
			Markdown       string `json:"markdown"`
			Summary        string `json:"summary"`
			Strengths      string `json:"strengths"`
			Weaknesses     string `json:"weaknesses"`
			Issues         string `json:"issues"`
			Suggestions    string `json:"suggestions"`
			Storylines     string `json:"storylines"`
			SectionID      string `json:"section_id"`
			SectionContent any    `json:"section_content"`
			SectionTitle   string `json:"section_title"`
			Source         string `json:"source"`
		}
		if err := unmarshal(rawArgs, &a); err != nil {
			return badArgs(name, err)
		}
		return tools.ReviewFinalMarkdownWrite(rt, tools.FinalWriteParams{
			Markdown: a.Markdown, Summary: a.Summary, Strengths: a.Strengths,
			Weaknesses: a.Weaknesses, Issues: a.Issues, Suggestions: a.Suggestions,
			Storylines: a.Storylines, SectionID: a.SectionID, SectionContent: a.SectionContent,
			SectionTitle: a.SectionTitle, Source: a.Source,
		})

	default:
		return tools.ErrOutcome("unknown_tool", fmt.Sprintf("no such tool %q", name), "")
	}
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func badArgs(tool string, err error) tools.Outcome {
	return tools.ErrOutcome("invalid_arguments", fmt.Sprintf("could not parse arguments for %s: %v", tool, err), tool)
}
