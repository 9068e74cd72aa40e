package papersearch

import "testing"

func TestNormalizeQuestionListFromJSONString(t *testing.T) {
	got := NormalizeQuestionList(`["a", "b", "a", "  c  "]`)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestNormalizeQuestionListCapsAtThree(t *testing.T) {
	got := NormalizeQuestionList([]any{"one", "two", "three", "four"})
	if len(got) != 3 {
		t.Fatalf("got %d items, want 3", len(got))
	}
}

func TestNormalizeQuestionListFromBulletText(t *testing.T) {
	got := NormalizeQuestionList("- first question\n- second question\n")
	want := []string{"first question", "second question"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v", got)
	}
}

func TestQuestionToArxivQueryDropsStopwords(t *testing.T) {
	got := questionToArxivQuery("What are the recent papers about diffusion models for tabular data?")
	if got == "" {
		t.Fatal("expected non-empty query")
	}
	for _, stop := range []string{"what", "are", "the", "recent", "papers", "about"} {
		if containsWord(got, stop) {
			t.Fatalf("query %q should not contain stopword %q", got, stop)
		}
	}
}

func containsWord(s, word string) bool {
	for _, w := range splitFields(s) {
		if w == word {
			return true
		}
	}
	return false
}

func splitFields(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func TestAdaptRemoteListBuildsCanonicalEnvelope(t *testing.T) {
	items := []map[string]any{
		{"title": "Paper A", "link": "2301.00001"},
		{"title": "Paper B", "link": "https://example.com/paper-b"},
	}
	result := adaptRemoteList(items, "diffusion models", nil)
	if result.Provider != "remote_list_adapted" || !result.Success {
		t.Fatalf("unexpected envelope: %+v", result)
	}
	if result.Count != 2 || len(result.Papers) != 2 {
		t.Fatalf("expected 2 papers, got %+v", result.Papers)
	}
	if result.Papers[0].ArxivID != "2301.00001" {
		t.Fatalf("expected arxiv id normalization, got %+v", result.Papers[0])
	}
}
