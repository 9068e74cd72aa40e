package localparse

import "testing"

func TestBuildDocumentEmitsPageHeadings(t *testing.T) {
	md, _ := buildDocument([]string{"alpha\nbeta", "gamma"})
	want := "## Page 1\n\nalpha\nbeta\n\n## Page 2\n\ngamma"
	if md != want {
		t.Fatalf("got %q, want %q", md, want)
	}
}

func TestBuildDocumentKeepsEveryNonBlankLine(t *testing.T) {
	_, rows := buildDocument([]string{"5\nCONFIDENTIAL\nReal content line here.\n***\n\n  padded  "})
	want := []string{"5", "CONFIDENTIAL", "Real content line here.", "***", "padded"}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows (%v), want %d", len(rows), rows, len(want))
	}
	for i, w := range want {
		if rows[i].Text != w || rows[i].PageIdx != 0 || rows[i].Type != "text" {
			t.Fatalf("rows[%d] = %+v, want text %q on page_idx 0", i, rows[i], w)
		}
	}
}

func TestBuildDocumentRowsCarryPageIndex(t *testing.T) {
	_, rows := buildDocument([]string{"a", "b\nc"})
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}
	if rows[0].PageIdx != 0 || rows[1].PageIdx != 1 || rows[2].PageIdx != 1 {
		t.Fatalf("unexpected page indices: %+v", rows)
	}
}

func TestBuildDocumentEmptyInput(t *testing.T) {
	md, rows := buildDocument(nil)
	if md != "" || rows != nil {
		t.Fatalf("got md=%q rows=%v", md, rows)
	}
}
