// Package controller implements the job controller: the
// state-machine orchestration that drives a submission from queued through
// parsing, the agent loop, and export, to completed or failed, with
// crash-safe recovery when a final report was already committed before an
// exception surfaced.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/local/deepreview/internal/agent"
	"github.com/local/deepreview/internal/artifactmirror"
	"github.com/local/deepreview/internal/config"
	"github.com/local/deepreview/internal/export"
	"github.com/local/deepreview/internal/filetype"
	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/metrics"
	"github.com/local/deepreview/internal/pageindex"
	"github.com/local/deepreview/internal/papersearch"
	"github.com/local/deepreview/internal/parseadapter"
	"github.com/local/deepreview/internal/pdfmeta"
	"github.com/local/deepreview/internal/statusfanout"
	"github.com/local/deepreview/internal/toolruntime"
)

// Controller wires every leaf component into the job lifecycle.
type Controller struct {
	Cfg         config.Config
	Store       *jobstore.Store
	Parser      *parseadapter.Adapter
	PaperSearch *papersearch.Adapter
	NewAgent    func() agent.Agent
	Exporter    export.Exporter
	Mirror      *artifactmirror.Mirror
	StatusFan   *statusfanout.Publisher
	Detector    *filetype.Detector
	Log         *zerolog.Logger
}

// New builds a Controller from its dependencies.
func New(cfg config.Config, store *jobstore.Store, parser *parseadapter.Adapter, paperSearch *papersearch.Adapter, newAgent func() agent.Agent, exporter export.Exporter, mirror *artifactmirror.Mirror, statusFan *statusfanout.Publisher, log *zerolog.Logger) *Controller {
	return &Controller{
		Cfg: cfg, Store: store, Parser: parser, PaperSearch: paperSearch,
		NewAgent: newAgent, Exporter: exporter, Mirror: mirror, StatusFan: statusFan,
		Detector: filetype.New(), Log: log,
	}
}

// SubmitError marks a validation failure raised before a job record even
// exists.
type SubmitError struct{ Reason, Message string }

func (e *SubmitError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Message) }

// Submit validates and registers a new job; it does not run it. The CLI
// front-end spawns the worker (`_run-job`) separately.
func (c *Controller) Submit(pdfPath, title string) (*jobstore.Job, error) {
	info, err := os.Stat(pdfPath)
	if err != nil {
		return nil, &SubmitError{"pdf_invalid", fmt.Sprintf("cannot stat %s: %v", pdfPath, err)}
	}
	if info.Size() == 0 {
		return nil, &SubmitError{"pdf_invalid", "submitted file is empty"}
	}
	if info.Size() > c.Cfg.MaxPDFBytes {
		return nil, &SubmitError{"pdf_invalid", fmt.Sprintf("file size %d exceeds max_pdf_bytes %d", info.Size(), c.Cfg.MaxPDFBytes)}
	}
	isPDF, err := c.Detector.Detect(pdfPath)
	if err != nil {
		return nil, &SubmitError{"pdf_invalid", fmt.Sprintf("could not sniff file type: %v", err)}
	}
	if !isPDF.IsPDF {
		return nil, &SubmitError{"pdf_invalid", fmt.Sprintf("submitted file is not a PDF (detected %s)", isPDF.MIMEType)}
	}

	if title == "" {
		title = filepath.Base(pdfPath)
	}
	id := uuid.NewString()
	job := jobstore.New(id, title, filepath.Base(pdfPath))

	pageCount, pcErr := pdfmeta.PageCount(pdfPath)
	if pcErr == nil {
		job.Metadata["source_page_count"] = pageCount
	} else {
		job.Metadata["source_page_count_error"] = pcErr.Error()
	}

	if err := c.Store.Create(job); err != nil {
		return nil, fmt.Errorf("controller: create job: %w", err)
	}

	dst := c.Store.ArtifactPath(id, "source.pdf")
	if err := copyFile(pdfPath, dst); err != nil {
		return nil, fmt.Errorf("controller: copy source pdf: %w", err)
	}

	events := jobstore.NewEventLog(c.Store.Dir(id))
	_ = events.Append("job_submitted", map[string]any{"title": title, "source_pdf_name": job.SourcePDFName})

	job, err = c.Store.Mutate(id, func(j *jobstore.Job) error {
		j.Artifacts.SourcePDF = dst
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("controller: record source artifact: %w", err)
	}
	return job, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	b, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return jobstore.AtomicWriteFile(dst, b)
}

// Run executes the full lifecycle for an already-submitted job. It is the
// body of the `_run-job` CLI subcommand's detached worker process.
func (c *Controller) Run(ctx context.Context, jobID string) (err error) {
	events := jobstore.NewEventLog(c.Store.Dir(jobID))

	defer func() {
		if r := recover(); r != nil {
			err = c.handleFailureOrRecover(ctx, jobID, events, fmt.Errorf("panic: %v", r))
		}
	}()

	job, loadErr := c.Store.Load(jobID)
	if loadErr != nil {
		return fmt.Errorf("job_not_found: %w", loadErr)
	}

	info, statErr := os.Stat(job.Artifacts.SourcePDF)
	if statErr != nil || info.Size() == 0 || info.Size() > c.Cfg.MaxPDFBytes {
		return c.handleFailureOrRecover(ctx, jobID, events, fmt.Errorf("pdf_invalid: source pdf missing, empty, or over %d bytes", c.Cfg.MaxPDFBytes))
	}

	if err := c.transition(jobID, events, jobstore.StatusPDFUploading, "uploading source PDF"); err != nil {
		return err
	}
	if err := c.transition(jobID, events, jobstore.StatusPDFParsing, "parsing submitted PDF"); err != nil {
		return err
	}

	pdfBytes, err := os.ReadFile(job.Artifacts.SourcePDF)
	if err != nil {
		return c.handleFailureOrRecover(ctx, jobID, events, fmt.Errorf("controller: read source pdf: %w", err))
	}

	result, err := c.Parser.ParsePDF(ctx, pdfBytes, jobID)
	if err != nil {
		return c.handleFailureOrRecover(ctx, jobID, events, fmt.Errorf("parse_failed: %w", err))
	}
	_ = events.Append("parse_completed", map[string]any{"provider": result.Provider, "warning": result.Warning})

	markdownPath := c.Store.ArtifactPath(jobID, "mineru_full.md")
	if err := jobstore.AtomicWriteFile(markdownPath, []byte(result.Markdown)); err != nil {
		return c.handleFailureOrRecover(ctx, jobID, events, fmt.Errorf("controller: persist parsed markdown: %w", err))
	}
	contentListPath := ""
	if len(result.ContentList) > 0 {
		contentListPath = c.Store.ArtifactPath(jobID, "mineru_content_list.json")
		if b, mErr := marshalJSON(result.ContentList); mErr == nil {
			if wErr := jobstore.AtomicWriteFile(contentListPath, b); wErr != nil {
				contentListPath = ""
			}
		} else {
			contentListPath = ""
		}
	}
	var rawResultPath string
	if result.RawResult != nil {
		if b, mErr := marshalJSON(result.RawResult); mErr == nil {
			rawResultPath = c.Store.ArtifactPath(jobID, "mineru_result_raw.json")
			if wErr := jobstore.AtomicWriteFile(rawResultPath, b); wErr != nil {
				rawResultPath = ""
			}
		}
	}

	job, err = c.Store.Mutate(jobID, func(j *jobstore.Job) error {
		j.Artifacts.ParsedMarkdown = markdownPath
		if contentListPath != "" {
			j.Artifacts.ContentList = contentListPath
		}
		if rawResultPath != "" {
			j.Artifacts.RawParseResult = rawResultPath
		}
		j.Metadata["parse_provider"] = result.Provider
		if result.Warning != "" {
			j.Metadata["parse_warning"] = result.Warning
		}
		return nil
	})
	if err != nil {
		return c.handleFailureOrRecover(ctx, jobID, events, fmt.Errorf("controller: record parse artifacts: %w", err))
	}

	idx := pageindex.Build(result.Markdown, result.ContentList)

	if err := c.transition(jobID, events, jobstore.StatusAgentRunning, "running review agent"); err != nil {
		return err
	}

	rt := toolruntime.New(jobID, c.Store.Dir(jobID), c.Cfg.Gates, idx, result.Markdown, c.PaperSearch, c.Store, events)

	promptPath := c.Store.ArtifactPath(jobID, "agent_prompt.txt")
	systemPrompt := buildSystemPrompt()
	if wErr := jobstore.AtomicWriteFile(promptPath, []byte(systemPrompt+"\n\n"+buildInitialMessage(job))); wErr == nil {
		_, _ = c.Store.Mutate(jobID, func(j *jobstore.Job) error {
			j.Artifacts.AgentPrompt = promptPath
			return nil
		})
	}

	runErr := c.runAgentLoop(ctx, rt, job, events, systemPrompt)

	job, _ = c.Store.Load(jobID)
	committed := rt.FinalMarkdown() != "" || job.PersistMarker()

	if !committed {
		if runErr != nil {
			return c.handleFailureOrRecover(ctx, jobID, events, runErr)
		}
		return c.handleFailureOrRecover(ctx, jobID, events, fmt.Errorf("agent_attempts_exhausted: no final report committed"))
	}

	return c.exportAndComplete(ctx, jobID, events, false)
}

// runAgentLoop drives up to two full attempts, then (if still uncommitted)
// a two-step forced-tool-choice sub-loop.
func (c *Controller) runAgentLoop(ctx context.Context, rt *toolruntime.Runtime, job *jobstore.Job, events *jobstore.EventLog, systemPrompt string) error {
	attempts := c.Cfg.Agent.ResumeAttempts
	if attempts > 2 {
		attempts = 2
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if rt.FinalMarkdown() != "" {
			return nil
		}
		metrics.AgentLoopAttempt()

		if fresh, lerr := c.Store.Load(job.ID); lerr == nil {
			job = fresh
		}
		msg := buildInitialMessage(job)
		if i > 0 {
			msg = buildContinuationMessage(job)
		}

		res, err := c.runOneAttempt(ctx, rt, agent.RunRequest{
			System: systemPrompt, UserMessage: msg, MaxTurns: c.Cfg.Agent.MaxTurns,
		})
		c.syncTokenUsage(job.ID, res.Usage)
		_ = events.Append("agent_attempt_finished", map[string]any{"attempt": i + 1, "stop_reason": res.StopReason})
		if err != nil {
			lastErr = err
			_ = events.Append("agent_attempt_error", map[string]any{"attempt": i + 1, "error": err.Error()})
		}
		if rt.FinalMarkdown() != "" {
			return nil
		}
	}

	if rt.FinalMarkdown() != "" {
		return nil
	}

	forcedChoices := []string{"review_final_markdown_write", "required"}
	for _, choice := range forcedChoices {
		if rt.FinalMarkdown() != "" {
			return nil
		}
		if fresh, lerr := c.Store.Load(job.ID); lerr == nil {
			job = fresh
		}
		res, err := c.runOneAttempt(ctx, rt, agent.RunRequest{
			System: systemPrompt, UserMessage: buildForcedMessage(job),
			ToolChoice: &choice, MaxTurns: 4,
		})
		c.syncTokenUsage(job.ID, res.Usage)
		if err != nil || rt.FinalMarkdown() == "" {
			_ = events.Append("agent_forced_final_write_error", map[string]any{"tool_choice": choice, "error": errString(err)})
			lastErr = err
			continue
		}
		return nil
	}

	if rt.FinalMarkdown() != "" {
		return nil
	}
	return lastErr
}

// runOneAttempt runs one agent.Run call under a cancellable context, with a
// watcher goroutine that requests cancellation as soon as the runtime's
// final markdown latches.
func (c *Controller) runOneAttempt(ctx context.Context, rt *toolruntime.Runtime, req agent.RunRequest) (agent.RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if rt.FinalMarkdown() != "" {
					cancel()
					return
				}
			}
		}
	}()

	a := c.NewAgent()
	res, err := a.Run(runCtx, rt, req)
	close(done)

	if rt.FinalMarkdown() != "" {
		// Cancellation racing a just-landed commit is expected and never a
		// failure.
		return res, nil
	}
	return res, err
}

func (c *Controller) syncTokenUsage(jobID string, u agent.TokenUsage) {
	_, _ = c.Store.Mutate(jobID, func(j *jobstore.Job) error {
		j.Usage.Token.Requests += u.Requests
		j.Usage.Token.Input += u.Input
		j.Usage.Token.Output += u.Output
		j.Usage.Token.Total = j.Usage.Token.Input + j.Usage.Token.Output
		return nil
	})
}

// exportAndComplete runs the export stage and always lands on `completed`
// once a final report is present, recording any export error without
// failing the job.
func (c *Controller) exportAndComplete(ctx context.Context, jobID string, events *jobstore.EventLog, recovery bool) error {
	if err := c.transition(jobID, events, jobstore.StatusPDFExporting, "exporting report PDF"); err != nil {
		return err
	}

	job, err := c.Store.Load(jobID)
	if err != nil {
		return fmt.Errorf("job_not_found: %w", err)
	}

	finalPath := job.Artifacts.FinalMarkdown
	if finalPath == "" {
		finalPath = c.Store.ArtifactPath(jobID, "final_report.md")
	}
	markdown, rErr := os.ReadFile(finalPath)
	if rErr != nil {
		_, _ = c.Store.Mutate(jobID, func(j *jobstore.Job) error {
			j.Metadata["pdf_export_recovery_error"] = fmt.Sprintf("read final markdown: %v", rErr)
			j.PDFReady = false
			return nil
		})
		return c.finish(jobID, events, recovery)
	}

	reportPath := c.Store.ArtifactPath(jobID, "final_report.pdf")
	exportErr := c.Exporter.Export(string(markdown), reportPath)

	_, _ = c.Store.Mutate(jobID, func(j *jobstore.Job) error {
		if exportErr != nil {
			j.Metadata["pdf_export_recovery_error"] = exportErr.Error()
			j.PDFReady = false
			return nil
		}
		j.Artifacts.ReportPDF = reportPath
		j.PDFReady = true
		return nil
	})
	if exportErr == nil && c.Mirror.Enabled() {
		if mErr := c.Mirror.Upload(ctx, c.Log, jobID, "final_report.pdf", reportPath); mErr != nil {
			_, _ = c.Store.Mutate(jobID, func(j *jobstore.Job) error {
				j.Metadata["artifact_mirror_error"] = mErr.Error()
				return nil
			})
		}
		if mErr := c.Mirror.Upload(ctx, c.Log, jobID, "final_report.md", finalPath); mErr != nil {
			_, _ = c.Store.Mutate(jobID, func(j *jobstore.Job) error {
				j.Metadata["artifact_mirror_error"] = mErr.Error()
				return nil
			})
		}
	}

	return c.finish(jobID, events, recovery)
}

func (c *Controller) finish(jobID string, events *jobstore.EventLog, recovery bool) error {
	_, err := c.Store.Mutate(jobID, func(j *jobstore.Job) error {
		j.Status = jobstore.StatusCompleted
		j.Message = "review completed"
		if recovery {
			j.Metadata["post_exception_recovery"] = true
			if errMsg, ok := j.Metadata["pdf_export_recovery_error"]; ok {
				j.Message = fmt.Sprintf("completed via recovery; PDF export failed during recovery: %v", errMsg)
				j.Error = fmt.Sprint(errMsg)
			} else {
				j.Message = "completed via recovery"
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("controller: finish job: %w", err)
	}
	metrics.JobTransition(string(jobstore.StatusCompleted))
	job, _ := c.Store.Load(jobID)
	if job != nil {
		c.publishStatus(jobID, string(jobstore.StatusCompleted), job.Message)
	}
	return events.Append("job_completed", map[string]any{"recovery": recovery})
}

// handleFailureOrRecover fails the job on an unrecovered error, unless a
// final report was already durably committed, in which case the job is
// promoted to completed instead.
func (c *Controller) handleFailureOrRecover(ctx context.Context, jobID string, events *jobstore.EventLog, cause error) error {
	job, loadErr := c.Store.Load(jobID)
	if loadErr != nil {
		return fmt.Errorf("job_not_found: %w", loadErr)
	}
	if job.PersistMarker() {
		_ = events.Append("post_exception_recovery_started", map[string]any{"cause": cause.Error()})
		return c.exportAndComplete(ctx, jobID, events, true)
	}

	_ = events.Append("completed_recovery_skipped", map[string]any{"cause": cause.Error()})
	_, failErr := c.Store.Mutate(jobID, func(j *jobstore.Job) error {
		j.Status = jobstore.StatusFailed
		j.Error = cause.Error()
		j.Message = "review failed"
		return nil
	})
	if failErr != nil {
		return fmt.Errorf("controller: mark job failed: %w", failErr)
	}
	metrics.JobTransition(string(jobstore.StatusFailed))
	c.publishStatus(jobID, string(jobstore.StatusFailed), "review failed")
	_ = events.Append("job_failed", map[string]any{"error": cause.Error()})
	return cause
}

// Recover is the one administrative repair operation beyond the core
// lifecycle: it promotes an already-failed job whose final markdown
// was in fact persisted before the crash to completed, post hoc.
func (c *Controller) Recover(ctx context.Context, jobID string) error {
	events := jobstore.NewEventLog(c.Store.Dir(jobID))
	job, err := c.Store.Load(jobID)
	if err != nil {
		return fmt.Errorf("job_not_found: %w", err)
	}
	if !job.PersistMarker() {
		return fmt.Errorf("controller: job %s has no persisted final report to recover", jobID)
	}
	return c.exportAndComplete(ctx, jobID, events, true)
}

// transition appends the status-change event before rewriting the state
// file, so a crash in between leaves a log entry for the transition that
// was about to land rather than a durable state with no trace.
func (c *Controller) transition(jobID string, events *jobstore.EventLog, status jobstore.Status, message string) error {
	if err := events.Append("job_status_changed", map[string]any{"status": string(status)}); err != nil {
		return fmt.Errorf("controller: record transition to %s: %w", status, err)
	}
	_, err := c.Store.Mutate(jobID, func(j *jobstore.Job) error {
		j.Status = status
		j.Message = message
		return nil
	})
	if err != nil {
		return fmt.Errorf("controller: transition to %s: %w", status, err)
	}
	metrics.JobTransition(string(status))
	c.publishStatus(jobID, string(status), message)
	return nil
}

// publishStatus is the optional, best-effort secondary status cache:
// failures here are never surfaced, since the job directory remains the
// authoritative source for `status`/`result`.
func (c *Controller) publishStatus(jobID, status, message string) {
	if c.StatusFan == nil || !c.StatusFan.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.StatusFan.Publish(ctx, jobID, status, message); err != nil && c.Log != nil {
		c.Log.Warn().Err(err).Str("job_id", jobID).Msg("status fanout publish failed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func marshalJSON(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
