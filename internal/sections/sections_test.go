package sections

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Strengths & Weaknesses": "strengths and weaknesses",
		"Key_Issues-list":        "key issues list",
		"  multi   space  ":      "multi space",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveIDExactAndAlias(t *testing.T) {
	if got := ResolveID("Summary"); got != "summary" {
		t.Fatalf("got %q", got)
	}
	if got := ResolveID("Pros"); got != "strengths" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveIDCompositeHeadingPicksFirstContainedAlias(t *testing.T) {
	// "Strengths and Weaknesses" normalizes to "strengths and weaknesses";
	// the strengths alias table is scanned before weaknesses, so it wins.
	if got := ResolveID("Strengths and Weaknesses"); got != "strengths" {
		t.Fatalf("got %q, want strengths", got)
	}
}

func TestAssembleSkipsEmptySections(t *testing.T) {
	out := Assemble(map[string]string{"summary": "hello", "strengths": ""})
	if out != "## Summary\n\nhello" {
		t.Fatalf("got %q", out)
	}
}

// TestSectionRoundTrip checks extract(assemble(M)) == M for a full map.
func TestSectionRoundTrip(t *testing.T) {
	m := map[string]string{}
	for _, d := range Required {
		m[d.ID] = "content for " + d.ID
	}
	md := Assemble(m)
	got := ExtractFromMarkdown(md)
	for id, want := range m {
		if got[id] != want {
			t.Fatalf("section %s: got %q want %q", id, got[id], want)
		}
	}
}

func TestFindMissingAllWhenNoHeadings(t *testing.T) {
	missing := FindMissing("just some prose, no headings")
	if len(missing) != len(missingGroups) {
		t.Fatalf("got %d missing, want %d", len(missing), len(missingGroups))
	}
}

func TestFindMissingAcceptsChineseHeadings(t *testing.T) {
	md := "# 摘要\n内容\n# 优点\n内容\n# 缺点\n内容\n# 核心问题\n内容\n# 建议\n内容\n" +
		"# 叙事方案\n内容\n# 修订计划\n内容\n# 实验清单\n内容\n# 新颖性验证\n内容\n" +
		"# 参考文献\n内容\n# 评分\n内容\n"
	missing := FindMissing(md)
	if len(missing) != 0 {
		t.Fatalf("got missing %v, want none", missing)
	}
}

func TestFindMissingNoneWhenAllPresent(t *testing.T) {
	m := map[string]string{}
	for _, d := range Required {
		m[d.ID] = "x"
	}
	md := Assemble(m)
	missing := FindMissing(md)
	if len(missing) != 0 {
		t.Fatalf("got missing %v, want none", missing)
	}
}
