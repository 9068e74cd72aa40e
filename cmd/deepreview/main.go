// Command deepreview is the CLI front-end: a thin driver with no
// business logic of its own. It wires the ambient and domain stacks once at
// startup and dispatches to one of five subcommands: submit, status,
// result, watch, and the internal _run-job worker entrypoint. Keeps the
// same startup-wiring idiom as an HTTP-server process would use, trading
// the server + Redis-queue dispatcher for a detached-process-per-job
// model.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/local/deepreview/internal/agent"
	"github.com/local/deepreview/internal/artifactmirror"
	"github.com/local/deepreview/internal/config"
	"github.com/local/deepreview/internal/controller"
	"github.com/local/deepreview/internal/export"
	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/localparse"
	logpkg "github.com/local/deepreview/internal/logger"
	mpkg "github.com/local/deepreview/internal/metrics"
	"github.com/local/deepreview/internal/papersearch"
	"github.com/local/deepreview/internal/parseadapter"
	"github.com/local/deepreview/internal/statusfanout"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "submit":
		runSubmit(cfg, os.Args[2:])
	case "status":
		runStatus(cfg, os.Args[2:])
	case "result":
		runResult(cfg, os.Args[2:])
	case "watch":
		runWatch(cfg, os.Args[2:])
	case "_run-job":
		runJob(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: deepreview <submit|status|result|watch> [flags]")
}

// newController builds the full dependency graph: ambient stack (logging,
// metrics) plus domain stack (store, parser, paper-search, agent, exporter,
// artifact mirror, status fan-out).
func newController(cfg config.Config) (*controller.Controller, func(), error) {
	if err := logpkg.Init(logpkg.Options{
		Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty, File: cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB, MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays, Compress: cfg.Logging.Compress,
		SendToAxiom: cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey: cfg.Axiom.APIKey, AxiomOrgID: cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset, AxiomFlush: cfg.Axiom.FlushInterval,
	}); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	mpkg.Init()

	store, err := jobstore.NewStore(cfg.DataDir)
	if err != nil {
		logpkg.Close()
		return nil, nil, fmt.Errorf("init job store: %w", err)
	}

	parser := parseadapter.New(cfg.Mineru, localparse.New())
	paperSearch := papersearch.New(cfg.PaperSearch, cfg.PaperRead)
	exporter := export.NewSimpleExporter()

	mirror, err := artifactmirror.New(context.Background(), cfg.Extras.ArtifactMirrorBucket)
	if err != nil {
		logpkg.Close()
		return nil, nil, fmt.Errorf("init artifact mirror: %w", err)
	}
	statusFan, err := statusfanout.New(cfg.Extras.StatusCacheRedisURL)
	if err != nil {
		logpkg.Close()
		return nil, nil, fmt.Errorf("init status fanout: %w", err)
	}

	newAgent := func() agent.Agent {
		return agent.NewAnthropicAgent(cfg.Agent.AnthropicAPIKey, cfg.Agent.Model, cfg.Agent.MaxTokens, cfg.Agent.Temperature)
	}

	c := controller.New(cfg, store, parser, paperSearch, newAgent, exporter, mirror, statusFan, logpkg.Get())
	cleanup := func() {
		_ = statusFan.Close()
		logpkg.Close()
	}
	return c, cleanup, nil
}

func fail(reason, message string) {
	emitJSON(map[string]any{"status": "error", "reason": reason, "message": message})
	os.Exit(2)
}

func emitJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Println(string(b))
}

func runSubmit(cfg config.Config, args []string) {
	fs := newFlagSet("submit")
	pdf := fs.String("pdf", "", "path to the PDF to review")
	title := fs.String("title", "", "optional human-readable title")
	waitSeconds := fs.Int("wait-seconds", -1, "seconds to wait for completion before returning (default from SUBMIT_DEFAULT_WAIT_SECONDS)")
	parseArgs(fs, args)

	if *pdf == "" {
		fail("pdf_invalid", "--pdf is required")
	}

	c, cleanup, err := newController(cfg)
	if err != nil {
		fail("internal_error", err.Error())
	}
	defer cleanup()

	job, err := c.Submit(*pdf, *title)
	if err != nil {
		fail("pdf_invalid", err.Error())
	}

	exe, err := os.Executable()
	if err != nil {
		fail("internal_error", fmt.Sprintf("resolve own executable: %v", err))
	}
	if err := spawnWorker(exe, job.ID, c.Store.Dir(job.ID)); err != nil {
		fail("internal_error", fmt.Sprintf("spawn worker: %v", err))
	}

	wait := *waitSeconds
	if wait < 0 {
		wait = cfg.Submit.DefaultWaitSeconds
	}
	poll := time.Duration(cfg.Submit.PollIntervalSeconds * float64(time.Second))
	if poll <= 0 {
		poll = time.Second
	}

	deadline := time.Now().Add(time.Duration(wait) * time.Second)
	for wait > 0 && time.Now().Before(deadline) {
		job, err = c.Store.Load(job.ID)
		if err == nil && job.Terminal() {
			break
		}
		time.Sleep(poll)
	}

	job, loadErr := c.Store.Load(job.ID)
	if loadErr != nil {
		fail("job_not_found", loadErr.Error())
	}
	emitJSON(statusPayload(job))
}

func runStatus(cfg config.Config, args []string) {
	fs := newFlagSet("status")
	jobID := fs.String("job-id", "", "job id")
	parseArgs(fs, args)
	if *jobID == "" {
		fail("job_not_found", "--job-id is required")
	}

	store, err := jobstore.NewStore(cfg.DataDir)
	if err != nil {
		fail("internal_error", err.Error())
	}
	job, err := store.Load(*jobID)
	if err != nil {
		fail("job_not_found", err.Error())
	}
	emitJSON(statusPayload(job))
}

func statusPayload(job *jobstore.Job) map[string]any {
	return map[string]any{
		"status":           "ok",
		"job_id":           job.ID,
		"job_status":       job.Status,
		"message":          job.Message,
		"error":            job.Error,
		"title":            job.Title,
		"annotation_count": job.AnnotationCount,
		"final_report_ready": job.FinalReportReady,
		"pdf_ready":        job.PDFReady,
		"usage":            job.Usage,
		"artifacts":        job.Artifacts,
		"created_at":       job.CreatedAt,
		"updated_at":       job.UpdatedAt,
	}
}

func runResult(cfg config.Config, args []string) {
	fs := newFlagSet("result")
	jobID := fs.String("job-id", "", "job id")
	format := fs.String("format", "md", "one of md|pdf|all")
	parseArgs(fs, args)
	if *jobID == "" {
		fail("job_not_found", "--job-id is required")
	}

	store, err := jobstore.NewStore(cfg.DataDir)
	if err != nil {
		fail("internal_error", err.Error())
	}
	job, err := store.Load(*jobID)
	if err != nil {
		fail("job_not_found", err.Error())
	}
	if !job.Terminal() || !job.FinalReportReady {
		emitJSON(map[string]any{"status": "not_ready", "job_status": job.Status, "message": job.Message})
		return
	}

	switch *format {
	case "md":
		path := job.Artifacts.FinalMarkdown
		if path == "" {
			path = store.ArtifactPath(*jobID, "final_report.md")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			fail("job_not_found", fmt.Sprintf("read final markdown: %v", err))
		}
		fmt.Print(string(b))
	case "pdf":
		if !job.PDFReady || job.Artifacts.ReportPDF == "" {
			emitJSON(map[string]any{"status": "not_ready", "message": "report pdf not available"})
			return
		}
		emitJSON(map[string]any{"status": "ok", "report_pdf": job.Artifacts.ReportPDF})
	case "all":
		emitJSON(map[string]any{
			"status": "ok", "artifacts": job.Artifacts, "metadata": job.Metadata,
		})
	default:
		fail("pdf_invalid", fmt.Sprintf("unknown --format %q", *format))
	}
}

func runWatch(cfg config.Config, args []string) {
	fs := newFlagSet("watch")
	jobID := fs.String("job-id", "", "job id")
	interval := fs.Int("interval", 2, "poll interval in seconds")
	timeout := fs.Int("timeout", 0, "give up after this many seconds (0 = no timeout)")
	parseArgs(fs, args)
	if *jobID == "" {
		fail("job_not_found", "--job-id is required")
	}

	store, err := jobstore.NewStore(cfg.DataDir)
	if err != nil {
		fail("internal_error", err.Error())
	}
	statusFan, _ := statusfanout.New(cfg.Extras.StatusCacheRedisURL)

	var deadline time.Time
	if *timeout > 0 {
		deadline = time.Now().Add(time.Duration(*timeout) * time.Second)
	}

	for {
		job, err := store.Load(*jobID)
		if err != nil {
			fail("job_not_found", err.Error())
		}

		status, message := string(job.Status), job.Message
		if statusFan != nil && statusFan.Enabled() {
			if s, m, ok, _ := statusFan.Fetch(context.Background(), *jobID); ok {
				status, message = s, m
			}
		}
		emitJSON(map[string]any{"status": "ok", "job_status": status, "message": message})

		if job.Terminal() {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			emitJSON(map[string]any{"status": "not_ready", "message": "watch timed out"})
			return
		}
		time.Sleep(time.Duration(*interval) * time.Second)
	}
}

// runJob is the body of the detached worker process spawned by submit. It
// writes no output of its own beyond the job directory: its stdout/stderr
// are already redirected to worker.stdout.log/worker.stderr.log by the
// parent process before exec.
func runJob(cfg config.Config, args []string) {
	fs := newFlagSet("_run-job")
	jobID := fs.String("job-id", "", "job id")
	parseArgs(fs, args)
	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "_run-job: --job-id is required")
		os.Exit(2)
	}

	c, cleanup, err := newController(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "_run-job: init failed:", err)
		os.Exit(2)
	}
	defer cleanup()

	if addr := cfg.Extras.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mpkg.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logpkg.Get().Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
			}
		}()
	}

	ctx := context.Background()
	if err := c.Run(ctx, *jobID); err != nil {
		fmt.Fprintln(os.Stderr, "_run-job: job", *jobID, "failed:", err)
		os.Exit(1)
	}
}

// spawnWorker launches a fully detached `_run-job` process for jobID,
// redirecting its stdout/stderr to the job directory's log files, and
// returns once the process has started (it does not wait for it).
func spawnWorker(exe, jobID, jobDir string) error {
	stdout, err := os.OpenFile(jobDir+"/worker.stdout.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open worker.stdout.log: %w", err)
	}
	stderr, err := os.OpenFile(jobDir+"/worker.stderr.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		stdout.Close()
		return fmt.Errorf("open worker.stderr.log: %w", err)
	}

	cmd := exec.Command(exe, "_run-job", "--job-id", jobID)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = nil
	// New session/process group so the worker survives the parent CLI
	// invocation exiting.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start worker: %w", err)
	}
	// The child inherits the open file descriptors; closing our handles
	// here does not affect the detached process.
	_ = stdout.Close()
	_ = stderr.Close()
	return cmd.Process.Release()
}

// newFlagSet builds a flag.FlagSet with usage/exit-on-error suppressed so a
// bad flag surfaces as our own JSON error on exit code 2, not the
// standard library's default exit-code-2-plus-plain-text-usage behavior.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(new(discardWriter))
	return fs
}

func parseArgs(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fail("pdf_invalid", err.Error())
	}
}

type discardWriter struct{}

func (*discardWriter) Write(p []byte) (int, error) { return len(p), nil }
