// Package jobstore defines the persistent job record and the
// per-job-directory store that keeps it durable.
package jobstore

import "time"

// Status is one node in the job state graph.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusPDFUploading    Status = "pdf_uploading"
	StatusPDFParsing      Status = "pdf_parsing"
	StatusAgentRunning    Status = "agent_running"
	StatusFinalPersisting Status = "final_persisting" // legal, not entered by the normal path
	StatusPDFExporting    Status = "pdf_exporting"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// TokenUsage tracks cumulative LLM token consumption for a job.
type TokenUsage struct {
	Requests int `json:"requests"`
	Input    int `json:"input"`
	Output   int `json:"output"`
	Total    int `json:"total"`
}

// ToolUsage tracks how many times each tool has been invoked.
type ToolUsage struct {
	TotalCalls   int            `json:"total_calls"`
	DistinctTool int            `json:"distinct_tool_count"`
	PerTool      map[string]int `json:"per_tool"`
}

// PaperSearchUsage tracks paper-search call/effectiveness counters.
type PaperSearchUsage struct {
	TotalCalls       int `json:"total_calls"`
	SuccessfulCalls  int `json:"successful_calls"`
	EffectiveCalls   int `json:"effective_calls"`
	PapersFound      int `json:"papers_found"`
	DistinctQueries  int `json:"distinct_queries"`

	// Signatures is the runtime's set of normalized query signatures. It is
	// not serialized into job.json (only DistinctQueries is), so a job
	// reloaded from disk carries no signatures.
	Signatures map[string]struct{} `json:"-"`
}

// Usage bundles the three counter groups carried on a job record.
type Usage struct {
	Token       TokenUsage       `json:"token"`
	Tool        ToolUsage        `json:"tool"`
	PaperSearch PaperSearchUsage `json:"paper_search"`
}

// Artifacts names the on-disk role -> path mapping for a job. A field is
// only ever set to a path that already exists on disk.
type Artifacts struct {
	SourcePDF        string `json:"source_pdf,omitempty"`
	ParsedMarkdown   string `json:"parsed_markdown,omitempty"`
	ContentList      string `json:"content_list,omitempty"`
	Annotations      string `json:"annotations,omitempty"`
	FinalMarkdown    string `json:"final_markdown,omitempty"`
	ReportPDF        string `json:"report_pdf,omitempty"`
	AgentPrompt      string `json:"agent_prompt,omitempty"`
	AgentFinalOutput string `json:"agent_final_output,omitempty"`
	RawParseResult   string `json:"raw_parse_result,omitempty"`
}

// Annotation is an agent-authored comment bound to a page/line span (append-only).
type Annotation struct {
	ID         string    `json:"id"`
	Page       int       `json:"page"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	Text       string    `json:"text"`
	Comment    string    `json:"comment"`
	Summary    string    `json:"summary,omitempty"`
	ObjectType string    `json:"object_type"`
	Severity   string    `json:"severity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Job is the single source of truth for one submission.
type Job struct {
	ID            string `json:"id"`
	Status        Status `json:"status"`
	Title         string `json:"title"`
	SourcePDFName string `json:"source_pdf_name"`

	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Usage Usage `json:"usage"`

	AnnotationCount   int  `json:"annotation_count"`
	FinalReportReady  bool `json:"final_report_ready"`
	PDFReady          bool `json:"pdf_ready"`

	Artifacts Artifacts `json:"artifacts"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// New creates a freshly queued job record.
func New(id, title, sourcePDFName string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:            id,
		Status:        StatusQueued,
		Title:         title,
		SourcePDFName: sourcePDFName,
		CreatedAt:     now,
		UpdatedAt:     now,
		Usage: Usage{
			Tool: ToolUsage{PerTool: map[string]int{}},
			PaperSearch: PaperSearchUsage{
				Signatures: map[string]struct{}{},
			},
		},
		Metadata: map[string]any{},
	}
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// PersistMarker reports whether recovery should treat this job as having a
// durable final report, independent of its current status.
func (j *Job) PersistMarker() bool {
	if j.FinalReportReady {
		return true
	}
	if j.Artifacts.FinalMarkdown != "" {
		return true
	}
	if _, ok := j.Metadata["final_report_source"]; ok {
		return true
	}
	return false
}
