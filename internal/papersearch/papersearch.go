// Package papersearch is a typed client to an external paper search/read
// service, each leg independently falling back to a genuine public arXiv
// substitute when unconfigured.
package papersearch

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/local/deepreview/internal/config"
)

// Paper is the canonical shape of one result, whether sourced from the
// remote service or synthesized from an arXiv Atom entry.
type Paper struct {
	ID       string   `json:"id"`
	ArxivID  string   `json:"arxiv_id"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Authors  []string `json:"authors,omitempty"`
	Published string `json:"published,omitempty"`
	Updated  string   `json:"updated,omitempty"`
	URL      string   `json:"url"`
	AbsURL   string   `json:"abs_url"`
	PDFURL   string   `json:"pdf_url,omitempty"`
	Source   string   `json:"source"`
}

// QuestionResult buckets results per normalized question.
type QuestionResult struct {
	Question string  `json:"question"`
	Success  bool    `json:"success"`
	Count    int     `json:"count"`
	Papers   []Paper `json:"papers"`
}

// SearchResult is the canonical search envelope.
type SearchResult struct {
	Success         bool             `json:"success"`
	Provider        string           `json:"provider,omitempty"`
	Error           string           `json:"error,omitempty"`
	Query           string           `json:"query,omitempty"`
	Questions       []string         `json:"questions,omitempty"`
	Papers          []Paper          `json:"papers"`
	Count           int              `json:"count"`
	QuestionResults []QuestionResult `json:"question_results"`

	// Raw holds the untouched payload when a remote dict response was
	// passed through unchanged, so tool logic can read arbitrary extra
	// fields the remote service may add.
	Raw map[string]any `json:"-"`
}

// ReadItemResult is one synthesized/remote answer for a read_paper request.
type ReadItemResult struct {
	ID       string `json:"id"`
	Question string `json:"question,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Paper    *Paper `json:"paper,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// ReadResult is the canonical read_papers envelope.
type ReadResult struct {
	Success bool             `json:"success"`
	Items   []ReadItemResult `json:"items"`
	Count   int              `json:"count"`
	Provider string          `json:"provider,omitempty"`
}

// Adapter is a client over the two independently-configured legs.
type Adapter struct {
	searchCfg config.PaperServiceConfig
	readCfg   config.PaperServiceConfig
	http      *http.Client
}

// New builds a paper-search adapter.
func New(searchCfg, readCfg config.PaperServiceConfig) *Adapter {
	return &Adapter{searchCfg: searchCfg, readCfg: readCfg, http: &http.Client{}}
}

func (a *Adapter) searchConfigured() bool { return a.searchCfg.BaseURL != "" }
func (a *Adapter) readConfigured() bool   { return a.readCfg.BaseURL != "" }

// Search runs the search leg, remote if configured, arXiv fallback otherwise.
func (a *Adapter) Search(ctx context.Context, query string, questionList []string) (SearchResult, error) {
	if a.searchConfigured() {
		return a.searchRemote(ctx, query, questionList)
	}
	return a.searchArxivFallback(ctx, query, questionList)
}

// ReadPapers runs the read leg, remote if configured, arXiv fallback otherwise.
func (a *Adapter) ReadPapers(ctx context.Context, items []map[string]any) (ReadResult, error) {
	if a.readConfigured() {
		return a.readRemote(ctx, items)
	}
	return a.readArxivFallback(ctx, items)
}

func (a *Adapter) searchRemote(ctx context.Context, query string, questionList []string) (SearchResult, error) {
	u := joinURL(a.searchCfg.BaseURL, a.searchCfg.Endpoint)
	body, _ := json.Marshal(map[string]any{"query": query, "question_list": questionList})

	timeout := a.searchCfg.Timeout
	if timeout < 20*time.Second {
		timeout = 20 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, raw, err := a.postJSON(reqCtx, u, a.searchCfg.APIKey, body)
	if err != nil {
		return SearchResult{}, err
	}

	var asDict map[string]any
	if json.Unmarshal(raw, &asDict) == nil {
		return decodeSearchDict(raw, asDict), nil
	}
	var asList []map[string]any
	if json.Unmarshal(raw, &asList) == nil {
		return adaptRemoteList(asList, query, questionList), nil
	}
	return SearchResult{Success: false, Error: "invalid_remote_payload", Papers: []Paper{}}, nil
}

// decodeSearchDict passes a dict response through: the canonical envelope
// fields decode into SearchResult, and the untouched map is kept on Raw for
// any extra fields the remote service adds.
func decodeSearchDict(raw []byte, m map[string]any) SearchResult {
	var r SearchResult
	_ = json.Unmarshal(raw, &r)
	r.Raw = m
	if r.Count == 0 {
		r.Count = len(r.Papers)
	}
	return r
}

func adaptRemoteList(items []map[string]any, query string, questionList []string) SearchResult {
	var papers []Paper
	for _, item := range items {
		p := normalizeRemotePaperItem(item)
		if p.Title == "" && p.Abstract == "" && p.URL == "" {
			continue
		}
		papers = append(papers, p)
	}
	var questions []string
	for _, q := range questionList {
		if strings.TrimSpace(q) != "" {
			questions = append(questions, q)
		}
	}
	queryText := strings.TrimSpace(query)
	if queryText != "" && !containsString(questions, queryText) {
		questions = append([]string{queryText}, questions...)
	}
	qrSource := questions
	if len(qrSource) == 0 && queryText != "" {
		qrSource = []string{queryText}
	}
	var qrs []QuestionResult
	for _, q := range qrSource {
		qrs = append(qrs, QuestionResult{Question: q, Success: len(papers) > 0, Count: len(papers), Papers: papers})
	}
	return SearchResult{
		Success:         true,
		Provider:        "remote_list_adapted",
		Query:           queryText,
		Questions:       questions,
		Papers:          papers,
		Count:           len(papers),
		QuestionResults: qrs,
	}
}

func normalizeRemotePaperItem(item map[string]any) Paper {
	title := strings.TrimSpace(asString(item["title"]))
	snippet := strings.TrimSpace(firstNonEmpty(asString(item["snippet"]), asString(item["abstract"])))
	link := strings.TrimSpace(firstNonEmpty(asString(item["link"]), asString(item["url"])))
	rawID := strings.TrimSpace(firstNonEmpty(asString(item["id"]), asString(item["arxiv_id"])))

	arxivID := rawID
	if arxivID == "" && link != "" && !strings.Contains(link, "http") {
		arxivID = link
	}
	arxivID = strings.TrimPrefix(arxivID, "arXiv:")
	arxivID = strings.TrimSpace(arxivID)

	var absURL, pdfURL string
	if arxivID != "" {
		absURL = "https://arxiv.org/abs/" + arxivID
		pdfURL = "https://arxiv.org/pdf/" + arxivID + ".pdf"
	} else if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		absURL = link
	}

	id := arxivID
	if id == "" {
		id = link
	}
	finalURL := absURL
	if finalURL == "" {
		finalURL = link
	}
	return Paper{
		ID: id, ArxivID: arxivID, Title: title, Abstract: snippet,
		URL: finalURL, AbsURL: finalURL, PDFURL: pdfURL, Source: "remote",
	}
}

func (a *Adapter) readRemote(ctx context.Context, items []map[string]any) (ReadResult, error) {
	u := joinURL(a.readCfg.BaseURL, a.readCfg.Endpoint)
	body, _ := json.Marshal(map[string]any{"items": items})

	timeout := a.readCfg.Timeout
	if timeout < 20*time.Second {
		timeout = 20 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, raw, err := a.postJSON(reqCtx, u, a.readCfg.APIKey, body)
	if err != nil {
		return ReadResult{}, err
	}
	var r ReadResult
	if json.Unmarshal(raw, &r) == nil {
		if r.Count == 0 {
			r.Count = len(r.Items)
		}
		return r, nil
	}
	return ReadResult{Success: false, Items: []ReadItemResult{}}, nil
}

func (a *Adapter) postJSON(ctx context.Context, u, apiKey string, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("papersearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("papersearch: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return resp, raw, fmt.Errorf("papersearch: remote returned status %d", resp.StatusCode)
	}
	return resp, raw, nil
}

func joinURL(base, endpoint string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// --- arXiv fallback ---

func (a *Adapter) searchArxivFallback(ctx context.Context, query string, questionList []string) (SearchResult, error) {
	var questions []string
	for _, q := range questionList {
		if strings.TrimSpace(q) != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 && strings.TrimSpace(query) != "" {
		questions = []string{query}
	}
	if len(questions) == 0 {
		return SearchResult{Success: false, Error: "empty_query", Papers: []Paper{}, Provider: "arxiv_fallback"}, nil
	}

	var all []Paper
	seen := map[string]bool{}
	var qrs []QuestionResult
	for _, q := range questions {
		papers, err := a.arxivQuery(ctx, q, 8)
		if err != nil {
			papers = nil
		}
		qrs = append(qrs, QuestionResult{Question: q, Success: len(papers) > 0, Count: len(papers), Papers: papers})
		for _, p := range papers {
			key := p.ArxivID
			if key == "" {
				key = p.URL
			}
			if key != "" && seen[key] {
				continue
			}
			if key != "" {
				seen[key] = true
			}
			all = append(all, p)
		}
	}

	return SearchResult{
		Success:         true,
		Query:           questions[0],
		Questions:       questions,
		Papers:          all,
		Count:           len(all),
		QuestionResults: qrs,
		Provider:        "arxiv_fallback",
	}, nil
}

func (a *Adapter) readArxivFallback(ctx context.Context, items []map[string]any) (ReadResult, error) {
	if len(items) == 0 {
		return ReadResult{Success: false, Provider: "arxiv_fallback", Items: []ReadItemResult{}}, nil
	}
	if len(items) > 8 {
		items = items[:8]
	}

	var outputs []ReadItemResult
	for _, item := range items {
		arxivID := strings.TrimSpace(firstNonEmpty(asString(item["id"]), asString(item["arxiv_id"])))
		question := strings.TrimSpace(asString(item["question"]))
		titleHint := strings.TrimSpace(asString(item["title"]))

		if arxivID == "" && titleHint != "" {
			if guessed, err := a.arxivQuery(ctx, titleHint, 1); err == nil && len(guessed) > 0 {
				arxivID = guessed[0].ArxivID
			}
		}
		if arxivID == "" {
			outputs = append(outputs, ReadItemResult{Question: question, Success: false, Error: "missing_arxiv_id"})
			continue
		}

		detail, err := a.arxivFetchSingle(ctx, arxivID)
		if err != nil || detail == nil {
			outputs = append(outputs, ReadItemResult{ID: arxivID, Question: question, Success: false, Error: "paper_not_found"})
			continue
		}
		answer := buildReadAnswer(*detail, question)
		outputs = append(outputs, ReadItemResult{ID: arxivID, Question: question, Success: true, Paper: detail, Answer: answer})
	}

	return ReadResult{Success: true, Items: outputs, Count: len(outputs), Provider: "arxiv_fallback"}, nil
}

func buildReadAnswer(detail Paper, question string) string {
	abstract := detail.Abstract
	if abstract == "" {
		abstract = "No abstract available."
	}
	if question == "" {
		return fmt.Sprintf("Title: %s\n\nAbstract:\n%s", detail.Title, abstract)
	}
	return fmt.Sprintf(
		"Question: %s\n\nFrom paper '%s', available evidence (abstract-level) is:\n%s\n\nNote: This fallback reader uses arXiv metadata/abstract, not full-text deep parsing.",
		question, detail.Title, abstract,
	)
}

const arxivAPIBase = "https://export.arxiv.org/api/query"

func (a *Adapter) arxivQuery(ctx context.Context, question string, maxResults int) ([]Paper, error) {
	tokens := questionToArxivQuery(question)
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 16 {
		maxResults = 16
	}
	u := fmt.Sprintf("%s?search_query=all:%s&start=0&max_results=%d", arxivAPIBase, url.QueryEscape(tokens), maxResults)
	body, err := a.arxivGet(ctx, u)
	if err != nil {
		return nil, err
	}
	return parseArxivFeed(body)
}

func (a *Adapter) arxivFetchSingle(ctx context.Context, arxivID string) (*Paper, error) {
	clean := strings.TrimSpace(arxivID)
	if clean == "" {
		return nil, fmt.Errorf("empty arxiv id")
	}
	u := fmt.Sprintf("%s?search_query=%s&start=0&max_results=1", arxivAPIBase, url.QueryEscape("id:"+clean))
	body, err := a.arxivGet(ctx, u)
	if err != nil {
		return nil, err
	}
	papers, err := parseArxivFeed(body)
	if err != nil || len(papers) == 0 {
		return nil, err
	}
	return &papers[0], nil
}

func (a *Adapter) arxivGet(ctx context.Context, u string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

var stopWords = map[string]bool{
	"what": true, "which": true, "how": true, "are": true, "is": true, "the": true, "for": true,
	"of": true, "to": true, "in": true, "and": true, "on": true, "with": true, "recent": true,
	"papers": true, "methods": true, "paper": true, "about": true, "does": true, "can": true,
	"be": true, "used": true, "that": true,
}

var nonWordRE = regexp.MustCompile(`[^a-z0-9\s-]`)
var wsRE = regexp.MustCompile(`\s+`)

func questionToArxivQuery(question string) string {
	text := strings.ToLower(strings.TrimSpace(question))
	text = wsRE.ReplaceAllString(text, " ")
	text = nonWordRE.ReplaceAllString(text, " ")
	var kept []string
	for _, tok := range strings.Fields(text) {
		if !stopWords[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) > 10 {
		kept = kept[:10]
	}
	if len(kept) == 0 {
		return text
	}
	return strings.Join(kept, " ")
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}
type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Updated   string       `xml:"updated"`
	Authors   []atomAuthor `xml:"author"`
}
type atomAuthor struct {
	Name string `xml:"name"`
}

func parseArxivFeed(body []byte) ([]Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("papersearch: decode arxiv feed: %w", err)
	}
	var papers []Paper
	for _, e := range feed.Entries {
		var authors []string
		for _, a := range e.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				authors = append(authors, name)
			}
		}
		arxivID := e.ID
		if idx := strings.LastIndex(arxivID, "/"); idx >= 0 {
			arxivID = arxivID[idx+1:]
		}
		var absURL, pdfURL string
		if arxivID != "" {
			absURL = "https://arxiv.org/abs/" + arxivID
			pdfURL = "https://arxiv.org/pdf/" + arxivID + ".pdf"
		}
		papers = append(papers, Paper{
			Title: strings.TrimSpace(e.Title), Abstract: strings.TrimSpace(e.Summary),
			Authors: authors, Published: strings.TrimSpace(e.Published), Updated: strings.TrimSpace(e.Updated),
			ArxivID: arxivID, URL: absURL, AbsURL: absURL, PDFURL: pdfURL, Source: "arxiv",
		})
	}
	return papers, nil
}

// NormalizeQuestionList accepts a list, a JSON-encoded list string, or
// bullet/line-delimited text; whitespace-normalizes, case-insensitively
// dedups, caps at 3 entries.
func NormalizeQuestionList(raw any) []string {
	var rawItems []string
	switch v := raw.(type) {
	case []string:
		rawItems = append(rawItems, v...)
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(asString(item)); s != "" {
				rawItems = append(rawItems, s)
			}
		}
	case string:
		text := strings.TrimSpace(v)
		if text != "" {
			var parsed []any
			if json.Unmarshal([]byte(text), &parsed) == nil {
				for _, item := range parsed {
					if s := strings.TrimSpace(asString(item)); s != "" {
						rawItems = append(rawItems, s)
					}
				}
			} else {
				for _, line := range strings.Split(text, "\n") {
					l := strings.Trim(line, "-• \t")
					if l != "" {
						rawItems = append(rawItems, l)
					}
				}
			}
		}
	}

	var cleaned []string
	seen := map[string]bool{}
	for _, item := range rawItems {
		normalized := strings.Join(strings.Fields(item), " ")
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, normalized)
		if len(cleaned) == 3 {
			break
		}
	}
	return cleaned
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
