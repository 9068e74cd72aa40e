// Package toolruntime holds the in-process context shared by every tool
// call for one job: all mutable run state, gate thresholds, and the
// handles needed to persist after each mutation.
package toolruntime

import (
	"sync"

	"github.com/local/deepreview/internal/config"
	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/pageindex"
	"github.com/local/deepreview/internal/papersearch"
)

// StatusUpdate is one free-form progress note recorded by status_update.
type StatusUpdate struct {
	Step      string `json:"step"`
	Completed string `json:"completed,omitempty"`
	Blocked   string `json:"blocked,omitempty"`
	Todo      string `json:"todo,omitempty"`
}

// Runtime is the job-scoped mutable state shared by all tool handlers.
// The agent drives tool calls sequentially, so the in-memory fields need
// no locking; the mutex only guards FinalMarkdownText, which the
// controller's cancellation watcher reads from its own goroutine.
type Runtime struct {
	JobID string
	Dir   string
	Gates config.GatesConfig

	PageIndex pageindex.Index
	Markdown  string

	PaperSearch *papersearch.Adapter

	mu sync.RWMutex

	Annotations []jobstore.Annotation

	FinalMarkdownText string // latches once non-empty; the commit watcher polls this

	SectionDraft map[string]string
	DraftVersion int

	ToolCalls map[string]int

	PaperSearchUsage jobstore.PaperSearchUsage

	StatusUpdates []StatusUpdate

	Store  *jobstore.Store
	Events *jobstore.EventLog
}

// New constructs a fresh Runtime for one job-agent run.
func New(jobID, dir string, gates config.GatesConfig, idx pageindex.Index, markdown string, adapter *papersearch.Adapter, store *jobstore.Store, events *jobstore.EventLog) *Runtime {
	return &Runtime{
		JobID:        jobID,
		Dir:          dir,
		Gates:        gates,
		PageIndex:    idx,
		Markdown:     markdown,
		PaperSearch:  adapter,
		SectionDraft: map[string]string{},
		ToolCalls:    map[string]int{},
		PaperSearchUsage: jobstore.PaperSearchUsage{
			Signatures: map[string]struct{}{},
		},
		Store:  store,
		Events: events,
	}
}

// FinalMarkdown returns the latched final markdown text, safe for
// concurrent reads from the controller's cancellation watcher.
func (r *Runtime) FinalMarkdown() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.FinalMarkdownText
}

// SetFinalMarkdown latches the final markdown text; a no-op once already set.
func (r *Runtime) SetFinalMarkdown(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FinalMarkdownText == "" {
		r.FinalMarkdownText = text
	}
}

// RecordToolCall increments the per-tool call counter.
func (r *Runtime) RecordToolCall(tool string) {
	r.ToolCalls[tool]++
}

// Sync recomputes derived counters and writes them into the job record via
// the Store, then returns the synced record. Every tool call ends with a
// call to Sync.
func (r *Runtime) Sync(mutate func(job *jobstore.Job)) (*jobstore.Job, error) {
	return r.Store.Mutate(r.JobID, func(job *jobstore.Job) error {
		job.Usage.Tool.TotalCalls = 0
		for _, n := range r.ToolCalls {
			job.Usage.Tool.TotalCalls += n
		}
		job.Usage.Tool.DistinctTool = len(r.ToolCalls)
		job.Usage.Tool.PerTool = map[string]int{}
		for k, v := range r.ToolCalls {
			job.Usage.Tool.PerTool[k] = v
		}

		job.Usage.PaperSearch.TotalCalls = r.PaperSearchUsage.TotalCalls
		job.Usage.PaperSearch.SuccessfulCalls = r.PaperSearchUsage.SuccessfulCalls
		job.Usage.PaperSearch.EffectiveCalls = r.PaperSearchUsage.EffectiveCalls
		job.Usage.PaperSearch.PapersFound = r.PaperSearchUsage.PapersFound
		job.Usage.PaperSearch.DistinctQueries = len(r.PaperSearchUsage.Signatures)

		job.AnnotationCount = len(r.Annotations)

		if mutate != nil {
			mutate(job)
		}
		return nil
	})
}
