// Package pageindex builds a page -> ordered-lines map from parsed markdown
// and an optional content list, and provides the flatten/search helpers
// used by the tool suite's pdf_search, pdf_read_lines, pdf_jump, and
// pdf_annotate operations.
package pageindex

import (
	"regexp"
	"sort"
	"strings"
)

// ContentRow mirrors one row of a parse adapter's content list.
type ContentRow struct {
	PageIdx int    `json:"page_idx"`
	Type    string `json:"type"`
	Text    string `json:"text"`
}

// Index maps a 1-based page number to its ordered text lines.
type Index map[int][]string

var pageHeadingRE = regexp.MustCompile(`(?im)^\s{0,3}#{1,6}\s*page\s+(\d+)\s*$`)

// Build constructs a page index from markdown and an optional content
// list: content-list grouping when rows are present, then "## Page N"
// heading scanning, then a single-page fallback.
func Build(markdown string, rows []ContentRow) Index {
	if len(rows) > 0 {
		return fromContentList(rows)
	}
	if idx := fromHeadings(markdown); len(idx) > 0 {
		return idx
	}
	return singlePage(markdown)
}

func fromContentList(rows []ContentRow) Index {
	idx := Index{}
	for _, r := range rows {
		page := r.PageIdx + 1
		text := strings.TrimSpace(r.Text)
		idx[page] = append(idx[page], text)
	}
	return idx
}

func fromHeadings(markdown string) Index {
	locs := pageHeadingRE.FindAllStringSubmatchIndex(markdown, -1)
	if len(locs) == 0 {
		return nil
	}
	idx := Index{}
	matches := pageHeadingRE.FindAllStringSubmatch(markdown, -1)
	for i, loc := range locs {
		pageNum := atoiSafe(matches[i][1])
		segStart := loc[1]
		segEnd := len(markdown)
		if i+1 < len(locs) {
			segEnd = locs[i+1][0]
		}
		segment := markdown[segStart:segEnd]
		for _, line := range strings.Split(segment, "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			idx[pageNum] = append(idx[pageNum], line)
		}
	}
	return idx
}

func singlePage(markdown string) Index {
	idx := Index{}
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx[1] = append(idx[1], line)
	}
	return idx
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Line is one (page, 1-based line offset, text) triple.
type Line struct {
	Page int
	Line int
	Text string
}

// Flatten orders the index into (page, line, text) triples by page then
// 1-based line offset; this fixes pdf_search's scan order.
func Flatten(idx Index) []Line {
	pages := make([]int, 0, len(idx))
	for p := range idx {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var out []Line
	for _, p := range pages {
		for i, text := range idx[p] {
			out = append(out, Line{Page: p, Line: i + 1, Text: text})
		}
	}
	return out
}

// Pages returns the sorted list of page numbers present in the index.
func (idx Index) Pages() []int {
	pages := make([]int, 0, len(idx))
	for p := range idx {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}
