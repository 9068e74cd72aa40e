package pageindex

import "testing"

func TestBuildFromContentList(t *testing.T) {
	rows := []ContentRow{
		{PageIdx: 0, Type: "text", Text: "first line"},
		{PageIdx: 0, Type: "text", Text: "second line"},
		{PageIdx: 1, Type: "text", Text: "other page"},
	}
	idx := Build("irrelevant", rows)

	if got := idx[1]; len(got) != 2 || got[0] != "first line" || got[1] != "second line" {
		t.Fatalf("page 1 lines = %v", got)
	}
	if got := idx[2]; len(got) != 1 || got[0] != "other page" {
		t.Fatalf("page 2 lines = %v", got)
	}
}

func TestBuildFromHeadings(t *testing.T) {
	md := "## Page 1\nalpha\nbeta\n## Page 2\ngamma\n"
	idx := Build(md, nil)

	if got := idx[1]; len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("page 1 lines = %v", got)
	}
	if got := idx[2]; len(got) != 1 || got[0] != "gamma" {
		t.Fatalf("page 2 lines = %v", got)
	}
}

func TestBuildSinglePageFallback(t *testing.T) {
	md := "no headings here\njust text\n"
	idx := Build(md, nil)

	if got := idx[1]; len(got) != 2 {
		t.Fatalf("page 1 lines = %v", got)
	}
}

func TestFlattenOrdersByPageThenLine(t *testing.T) {
	idx := Index{2: {"b1"}, 1: {"a1", "a2"}}
	flat := Flatten(idx)

	want := []Line{
		{Page: 1, Line: 1, Text: "a1"},
		{Page: 1, Line: 2, Text: "a2"},
		{Page: 2, Line: 1, Text: "b1"},
	}
	if len(flat) != len(want) {
		t.Fatalf("len = %d, want %d", len(flat), len(want))
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Fatalf("flat[%d] = %+v, want %+v", i, flat[i], want[i])
		}
	}
}

// TestContentListRoundTrip checks that page_index[p] equals the trimmed
// text fields of content-list rows with page_idx = p-1, in input order.
func TestContentListRoundTrip(t *testing.T) {
	rows := []ContentRow{
		{PageIdx: 0, Text: "  padded  "},
		{PageIdx: 0, Text: "second"},
	}
	idx := Build("", rows)
	if idx[1][0] != "padded" || idx[1][1] != "second" {
		t.Fatalf("got %v", idx[1])
	}
}
