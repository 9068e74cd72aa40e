package jobstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	job := New("j1", "Title", "paper.pdf")
	if err := s.Create(job); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "j1" || got.Status != StatusQueued || got.Title != "Title" {
		t.Fatalf("got %+v", got)
	}
	if got.Usage.Tool.PerTool == nil || got.Metadata == nil {
		t.Fatal("maps must be non-nil after reload")
	}
}

func TestMutateAbortLeavesStateUntouched(t *testing.T) {
	s := newStore(t)
	job := New("j1", "Title", "paper.pdf")
	if err := s.Create(job); err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(filepath.Join(s.Dir("j1"), "job.json"))
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	if _, err := s.Mutate("j1", func(j *Job) error {
		j.Status = StatusFailed
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected the mutation error back, got %v", err)
	}

	after, err := os.ReadFile(filepath.Join(s.Dir("j1"), "job.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("aborted mutation must not change the on-disk record")
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "state.json")

	if err := AtomicWriteFile(target, []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(target, []byte(`{"a":2}`)); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	b, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"a":2}` {
		t.Fatalf("got %s", b)
	}
}

func TestEventLogAppendCountAll(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLog(dir)

	if err := l.Append("job_status_changed", map[string]any{"status": "pdf_parsing"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("final_report_persisted", map[string]any{"draft_version": 3}); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("job_status_changed", nil); err != nil {
		t.Fatal(err)
	}

	n, err := l.Count("job_status_changed")
	if err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	all, err := l.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[1].Name != "final_report_persisted" {
		t.Fatalf("got %+v", all)
	}
}

func TestPersistMarker(t *testing.T) {
	j := New("j1", "t", "p.pdf")
	if j.PersistMarker() {
		t.Fatal("fresh job must not carry a persist marker")
	}
	j.Artifacts.FinalMarkdown = "/tmp/final_report.md"
	if !j.PersistMarker() {
		t.Fatal("a recorded final-markdown artifact path is a persist marker")
	}

	j2 := New("j2", "t", "p.pdf")
	j2.Metadata["final_report_source"] = "agent"
	if !j2.PersistMarker() {
		t.Fatal("a final_report_source metadata entry is a persist marker")
	}

	j3 := New("j3", "t", "p.pdf")
	j3.FinalReportReady = true
	if !j3.PersistMarker() {
		t.Fatal("final_report_ready is a persist marker")
	}
}

func TestTerminal(t *testing.T) {
	j := New("j1", "t", "p.pdf")
	for _, st := range []Status{StatusQueued, StatusPDFUploading, StatusPDFParsing, StatusAgentRunning, StatusPDFExporting} {
		j.Status = st
		if j.Terminal() {
			t.Fatalf("%s must not be terminal", st)
		}
	}
	for _, st := range []Status{StatusCompleted, StatusFailed} {
		j.Status = st
		if !j.Terminal() {
			t.Fatalf("%s must be terminal", st)
		}
	}
}
