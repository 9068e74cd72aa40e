package parseadapter

import (
	"testing"

	"github.com/local/deepreview/internal/config"
)

func TestClassifyPollBenignErrorCodeIsNonTerminal(t *testing.T) {
	payload := map[string]any{"code": -60012.0, "msg": "task not found or expire"}
	_, terminal, failed := classifyPoll(payload)
	if terminal || failed {
		t.Fatalf("benign -60012 payload should be non-terminal, got terminal=%v failed=%v", terminal, failed)
	}
}

func TestClassifyPollZipSuccess(t *testing.T) {
	payload := map[string]any{
		"code": 0.0,
		"data": map[string]any{"full_zip_url": "https://example.com/r.zip", "state": "done"},
	}
	_, terminal, failed := classifyPoll(payload)
	if !terminal || failed {
		t.Fatalf("zip-bearing done payload should be terminal success, got terminal=%v failed=%v", terminal, failed)
	}
}

func TestClassifyPollFailureState(t *testing.T) {
	payload := map[string]any{"state": "failed"}
	_, terminal, failed := classifyPoll(payload)
	if terminal || !failed {
		t.Fatalf("failed state should be terminal failure, got terminal=%v failed=%v", terminal, failed)
	}
}

func TestClassifyPollRunningIsNotTerminal(t *testing.T) {
	payload := map[string]any{"code": 1.0, "msg": "still processing"}
	_, terminal, failed := classifyPoll(payload)
	if terminal || failed {
		t.Fatalf("processing payload should not be terminal")
	}
}

func TestFindURLBFSPrefersShallowerMatch(t *testing.T) {
	payload := map[string]any{
		"nested": map[string]any{"inner": map[string]any{"markdown_url": "deep.md"}},
		"data":   map[string]any{"md_url": "shallow.md"},
	}
	url, ok := findURLBFS(payload, []string{"markdown_url", "md_url", "full_md_url", "full_md"})
	if !ok {
		t.Fatal("expected a URL to be found")
	}
	if url != "shallow.md" {
		t.Fatalf("expected the shallower match shallow.md, got %q", url)
	}
}

func TestResolveURLAbsoluteVerbatim(t *testing.T) {
	a := New(config.MineruConfig{BaseURL: "https://mineru.net/api/v4"}, nil)
	if got := a.resolveURL("https://other.example/x"); got != "https://other.example/x" {
		t.Fatalf("got %q", got)
	}
	if got := a.resolveURL("/extract/1"); got != "https://mineru.net/api/v4/extract/1" {
		t.Fatalf("got %q", got)
	}
}
