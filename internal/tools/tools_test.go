package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/local/deepreview/internal/config"
	"github.com/local/deepreview/internal/jobstore"
	"github.com/local/deepreview/internal/pageindex"
	"github.com/local/deepreview/internal/papersearch"
	"github.com/local/deepreview/internal/sections"
	"github.com/local/deepreview/internal/toolruntime"
)

func newTestRuntime(t *testing.T, gates config.GatesConfig, searchCfg config.PaperServiceConfig) *toolruntime.Runtime {
	t.Helper()
	dir := t.TempDir()
	store, err := jobstore.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	job := jobstore.New("job-1", "Test Paper", "source.pdf")
	if err := store.Create(job); err != nil {
		t.Fatal(err)
	}
	events := jobstore.NewEventLog(store.Dir("job-1"))

	idx := pageindex.Build("## Page 1\nhello world\nfoo bar\n", nil)
	adapter := papersearch.New(searchCfg, config.PaperServiceConfig{})

	return toolruntime.New("job-1", store.Dir("job-1"), gates, idx, "## Page 1\nhello world\n", adapter, store, events)
}

// fakeSearchServer answers the remote paper-search wire protocol with a
// fixed two-paper result.
func fakeSearchServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"provider": "fake",
			"query":    req["query"],
			"papers": []map[string]any{
				{"title": "Paper A", "arxiv_id": "2301.00001", "url": "https://arxiv.org/abs/2301.00001", "abs_url": "https://arxiv.org/abs/2301.00001", "source": "remote"},
				{"title": "Paper B", "arxiv_id": "2301.00002", "url": "https://arxiv.org/abs/2301.00002", "abs_url": "https://arxiv.org/abs/2301.00002", "source": "remote"},
			},
			"count": 2,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPDFSearchRequiresQuery(t *testing.T) {
	rt := newTestRuntime(t, config.GatesConfig{}, config.PaperServiceConfig{})
	out := PDFSearch(rt, "", 8)
	if out.Status != StatusError || out.Reason != "empty_query" {
		t.Fatalf("got %+v", out)
	}
}

func TestPDFSearchFindsHits(t *testing.T) {
	rt := newTestRuntime(t, config.GatesConfig{}, config.PaperServiceConfig{})
	out := PDFSearch(rt, "hello", 8)
	if out.Status != StatusOK {
		t.Fatalf("got %+v", out)
	}
	if out.Fields["count"].(int) == 0 {
		t.Fatal("expected at least one hit")
	}
}

func TestPDFAnnotateGateBlocksThenUnblocks(t *testing.T) {
	srv := fakeSearchServer(t)
	rt := newTestRuntime(t,
		config.GatesConfig{Enabled: true, MinPaperSearchCallsForPDFAnnotate: 3},
		config.PaperServiceConfig{BaseURL: srv.URL, Endpoint: "/search"})

	out := PDFAnnotate(rt, 1, 1, 1, "typo", "", "", "")
	if out.Status != StatusError || out.Reason != "paper_search_calls_not_met" {
		t.Fatalf("expected gate block, got %+v", out)
	}

	for _, q := range []string{"first query", "second query", "third query"} {
		res := PaperSearch(context.Background(), rt, q, nil)
		if res.Status != StatusOK {
			t.Fatalf("paper_search %q: got %+v", q, res)
		}
	}

	out = PDFAnnotate(rt, 1, 1, 1, "typo", "", "", "")
	if out.Status != StatusOK {
		t.Fatalf("expected gate to pass, got %+v", out)
	}
}

func TestPaperSearchCountsDistinctQueries(t *testing.T) {
	srv := fakeSearchServer(t)
	rt := newTestRuntime(t, config.GatesConfig{},
		config.PaperServiceConfig{BaseURL: srv.URL, Endpoint: "/search"})

	PaperSearch(context.Background(), rt, "Graph  Neural Networks", nil)
	PaperSearch(context.Background(), rt, "graph neural networks", nil) // same signature after normalization
	PaperSearch(context.Background(), rt, "tabular diffusion", []any{"what baselines are standard?"})

	if got := rt.PaperSearchUsage.TotalCalls; got != 3 {
		t.Fatalf("total_calls = %d, want 3", got)
	}
	want := 3 // "graph neural networks", "tabular diffusion", the question
	if got := len(rt.PaperSearchUsage.Signatures); got != want {
		t.Fatalf("distinct signatures = %d, want %d (%v)", got, want, rt.PaperSearchUsage.Signatures)
	}
}

func TestReviewFinalMarkdownWritePartialThenCommit(t *testing.T) {
	rt := newTestRuntime(t, config.GatesConfig{}, config.PaperServiceConfig{})

	ids := []string{}
	for _, d := range sections.Required {
		ids = append(ids, d.ID)
	}

	for i, id := range ids[:len(ids)-1] {
		out := ReviewFinalMarkdownWrite(rt, FinalWriteParams{SectionID: id, SectionContent: "content " + id})
		if i < len(ids)-2 {
			if out.Status != StatusPartial {
				t.Fatalf("section %s: expected partial, got %+v", id, out)
			}
		}
	}

	final := ReviewFinalMarkdownWrite(rt, FinalWriteParams{SectionID: ids[len(ids)-1], SectionContent: "content " + ids[len(ids)-1]})
	if final.Status != StatusOK {
		t.Fatalf("expected commit to succeed, got %+v", final)
	}
	if persisted, _ := final.Fields["final_report_persisted"].(bool); !persisted {
		t.Fatalf("expected final_report_persisted=true, got %+v", final.Fields)
	}

	path := rt.Store.ArtifactPath(rt.JobID, "final_report.md")
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	again := ReviewFinalMarkdownWrite(rt, FinalWriteParams{SectionID: "summary", SectionContent: "changed content"})
	if again.Status != StatusOK {
		t.Fatalf("expected idempotent ok, got %+v", again)
	}
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Fatal("re-commit must not mutate the final-markdown artifact")
	}

	count, err := rt.Events.Count("final_report_persisted")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one final_report_persisted event, got %d", count)
	}
}

func TestReviewFinalMarkdownWriteSectionIDInvalid(t *testing.T) {
	rt := newTestRuntime(t, config.GatesConfig{}, config.PaperServiceConfig{})
	out := ReviewFinalMarkdownWrite(rt, FinalWriteParams{SectionID: "not_a_real_section", SectionContent: "x"})
	if out.Status != StatusError || out.Reason != "section_id_invalid" {
		t.Fatalf("got %+v", out)
	}
}

func TestReviewFinalMarkdownWriteGateBlocksCommit(t *testing.T) {
	rt := newTestRuntime(t,
		config.GatesConfig{Enabled: true, MinAnnotationsForFinal: 5},
		config.PaperServiceConfig{})

	for _, d := range sections.Required[:len(sections.Required)-1] {
		ReviewFinalMarkdownWrite(rt, FinalWriteParams{SectionID: d.ID, SectionContent: "x"})
	}
	last := sections.Required[len(sections.Required)-1]
	out := ReviewFinalMarkdownWrite(rt, FinalWriteParams{SectionID: last.ID, SectionContent: "x"})
	if out.Status != StatusError || out.Reason != "annotation_count_not_met" {
		t.Fatalf("expected annotation gate to block commit, got %+v", out)
	}
	if rt.FinalMarkdown() != "" {
		t.Fatal("gate-blocked commit must not latch the final markdown")
	}
}

func TestStatusUpdateAlwaysOK(t *testing.T) {
	rt := newTestRuntime(t, config.GatesConfig{}, config.PaperServiceConfig{})
	out := StatusUpdate(rt, "planning", "", "", "reading page 1")
	if out.Status != StatusOK {
		t.Fatalf("got %+v", out)
	}
	n, err := rt.Events.Count("agent_status_update")
	if err != nil || n != 1 {
		t.Fatalf("expected one agent_status_update event, got %d (%v)", n, err)
	}
}

func TestQuestionPromptNotAvailable(t *testing.T) {
	out := QuestionPrompt("which venue?", nil)
	if out.Status != StatusNotAvailable {
		t.Fatalf("got %+v", out)
	}
}
