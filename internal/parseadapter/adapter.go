// Package parseadapter submits a PDF to an
// external MinerU-style parse service, polling until terminal, extracting
// markdown and a content list from a heterogeneous response shape, and
// falling back to a local PDF text-extraction engine when the remote is
// unconfigured or fails.
package parseadapter

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/local/deepreview/internal/config"
	"github.com/local/deepreview/internal/metrics"
	"github.com/local/deepreview/internal/pageindex"
)

// Result is the output of a successful parse.
type Result struct {
	Markdown    string
	ContentList []pageindex.ContentRow
	BatchID     string
	RawResult   map[string]any
	Provider    string
	Warning     string
}

// Error is a typed parse-adapter error carrying a machine-readable reason
// code.
type Error struct {
	Reason  string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Message) }

func errf(reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// LocalExtractor is the local fallback PDF text-extraction engine (the
// go-fitz-backed implementation lives in internal/localparse).
type LocalExtractor interface {
	ParseLocal(pdfBytes []byte) (markdown string, rows []pageindex.ContentRow, err error)
}

// Adapter submits, polls, and extracts parse results.
type Adapter struct {
	cfg   config.MineruConfig
	http  *http.Client
	local LocalExtractor
}

// New builds a parse adapter from configuration and a local fallback engine.
func New(cfg config.MineruConfig, local LocalExtractor) *Adapter {
	return &Adapter{
		cfg:  cfg,
		http: &http.Client{Timeout: 20 * time.Second},
		local: local,
	}
}

func (a *Adapter) configured() bool {
	return a.cfg.BaseURL != "" && a.cfg.APIToken != ""
}

// ParsePDF runs the full submit/poll/extract protocol. dataID
// identifies the submission to the upstream service; a fresh UUID is used
// if empty.
func (a *Adapter) ParsePDF(ctx context.Context, pdfBytes []byte, dataID string) (Result, error) {
	if dataID == "" {
		dataID = uuid.NewString()
	}

	if !a.configured() {
		if !a.cfg.AllowLocalFallback {
			return Result{}, errf("unconfigured", "parse adapter has no remote base URL/token and local fallback is disabled")
		}
		return a.parseLocal(pdfBytes, "")
	}

	res, err := a.parseRemote(ctx, pdfBytes, dataID)
	if err != nil {
		metrics.ParseAttempt("mineru", "error")
		if a.cfg.AllowLocalFallback {
			local, lerr := a.parseLocal(pdfBytes, fmt.Sprintf("%s parse failed; used local fallback parser. reason=%v", "remote", err))
			if lerr == nil {
				return local, nil
			}
		}
		return Result{}, err
	}
	metrics.ParseAttempt("mineru", "ok")
	return res, nil
}

func (a *Adapter) parseLocal(pdfBytes []byte, warning string) (Result, error) {
	if a.local == nil {
		return Result{}, errf("unconfigured", "no local fallback parser configured")
	}
	md, rows, err := a.local.ParseLocal(pdfBytes)
	if err != nil {
		metrics.ParseAttempt("local_fitz", "error")
		return Result{}, errf("empty_markdown", "local fallback parser failed: %v", err)
	}
	if strings.TrimSpace(md) == "" {
		metrics.ParseAttempt("local_fitz", "error")
		return Result{}, errf("empty_markdown", "local fallback parser produced empty markdown")
	}
	metrics.ParseAttempt("local_fitz", "ok")
	return Result{Markdown: md, ContentList: rows, Provider: "local_fitz", Warning: warning}, nil
}

type uploadRequestFile struct {
	Name   string `json:"name"`
	DataID string `json:"data_id"`
}

type uploadRequest struct {
	Files        []uploadRequestFile `json:"files"`
	ModelVersion string              `json:"model_version"`
}

func (a *Adapter) parseRemote(ctx context.Context, pdfBytes []byte, dataID string) (Result, error) {
	uploadURL := a.resolveURL(a.cfg.UploadEndpoint)
	body, err := json.Marshal(uploadRequest{
		Files:        []uploadRequestFile{{Name: dataID + ".pdf", DataID: dataID}},
		ModelVersion: a.cfg.ModelVersion,
	})
	if err != nil {
		return Result{}, errf("parse_upload_failed", "encode upload request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, errf("parse_upload_failed", "build upload request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)

	resp, err := a.http.Do(req)
	if err != nil {
		return Result{}, errf("parse_upload_failed", "upload request: %v", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	var uploadResp map[string]any
	if err := json.Unmarshal(respBody, &uploadResp); err != nil {
		return Result{}, errf("parse_upload_failed", "decode upload response: %v", err)
	}
	code, _ := asFloat(uploadResp["code"])
	if code != 0 {
		return Result{}, errf("parse_upload_failed", "upload returned code=%v", uploadResp["code"])
	}
	data, _ := uploadResp["data"].(map[string]any)
	batchID, _ := data["batch_id"].(string)
	if batchID == "" {
		return Result{}, errf("parse_upload_failed", "upload response missing batch_id")
	}

	var fileURLs []string
	if raw, ok := data["file_urls"].([]any); ok {
		for _, u := range raw {
			if s, ok := u.(string); ok {
				fileURLs = append(fileURLs, s)
			}
		}
	}
	for _, u := range fileURLs {
		if err := a.putPDF(ctx, u, pdfBytes); err != nil {
			return Result{}, errf("parse_upload_failed", "upload PDF bytes: %v", err)
		}
	}

	statusURLs := a.buildStatusURLs(uploadResp, batchID)
	payload, err := a.poll(ctx, statusURLs)
	if err != nil {
		return Result{}, err
	}

	return a.extract(ctx, payload, batchID)
}

func (a *Adapter) putPDF(ctx context.Context, url string, pdfBytes []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(pdfBytes))
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("PUT %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

func (a *Adapter) buildStatusURLs(uploadResp map[string]any, batchID string) []string {
	seen := map[string]bool{}
	var urls []string
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, a.resolveURL(u))
	}

	for _, key := range []string{"status_url", "result_url", "batch_status_url", "batch_result_url"} {
		if s, ok := uploadResp[key].(string); ok {
			add(s)
		}
		if data, ok := uploadResp["data"].(map[string]any); ok {
			if s, ok := data[key].(string); ok {
				add(s)
			}
		}
	}
	for _, tmpl := range a.cfg.PollEndpointTemplates {
		add(strings.ReplaceAll(tmpl, "{batch_id}", batchID))
	}
	return urls
}

var successStates = map[string]bool{
	"done": true, "completed": true, "success": true, "succeeded": true, "finished": true,
}
var failureStates = map[string]bool{"failed": true, "error": true, "aborted": true}

// poll cycles through statusURLs until a terminal payload is found or the
// deadline expires.
func (a *Adapter) poll(ctx context.Context, statusURLs []string) (map[string]any, error) {
	if len(statusURLs) == 0 {
		return nil, errf("parse_upload_failed", "no status URLs available to poll")
	}

	timeout := a.cfg.PollTimeout
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	interval := a.cfg.PollInterval
	if interval < 800*time.Millisecond {
		interval = 800 * time.Millisecond
	}

	var lastPayload map[string]any
	for time.Now().Before(deadline) {
		for _, url := range statusURLs {
			payload, softSkip, err := a.fetchStatus(ctx, url)
			if err != nil {
				return nil, err
			}
			if softSkip {
				continue
			}
			lastPayload = payload

			state, terminal, failed := classifyPoll(payload)
			if failed {
				return nil, errf("invalid_remote_payload", "poll reported terminal failure: state=%s", state)
			}
			if terminal {
				return payload, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	if lastPayload != nil {
		last, _ := json.Marshal(lastPayload)
		return nil, errf("parse_timeout", "poll deadline expired; last payload: %s", last)
	}
	return nil, errf("parse_timeout", "poll deadline expired with no payload")
}

func (a *Adapter) fetchStatus(ctx context.Context, url string) (payload map[string]any, softSkip bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, true, nil
	}
	if a.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)
	}
	resp, doErr := a.http.Do(req)
	if doErr != nil {
		return nil, true, nil // transport errors soft-skip
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == 404 {
		return nil, true, nil
	}
	body, _ := io.ReadAll(resp.Body)
	var v map[string]any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, true, nil // non-object payloads soft-skipped
	}
	return v, false, nil
}

// classifyPoll implements the terminal-success / terminal-failure
// detection, including the benign -60012 "task not found" exception.
func classifyPoll(payload map[string]any) (state string, terminal bool, failed bool) {
	code, hasCode := asFloat(payload["code"])
	msg, _ := payload["msg"].(string)
	if msg == "" {
		msg, _ = payload["message"].(string)
	}
	lowerMsg := strings.ToLower(msg)

	state = extractState(payload)
	if successStates[strings.ToLower(state)] {
		return state, true, false
	}

	if md, _, _ := extractMarkdown(payload); md != "" {
		return state, true, false
	}
	if data, ok := payload["data"].(map[string]any); ok {
		if hasAnyKey(data, "full_zip_url", "markdown", "md") {
			return state, true, false
		}
		if results, ok := data["extract_result"].([]any); ok {
			for _, r := range results {
				if rm, ok := r.(map[string]any); ok {
					rs := extractState(rm)
					if successStates[strings.ToLower(rs)] {
						return state, true, false
					}
					if hasAnyKey(rm, "markdown", "md", "full_zip_url") {
						return state, true, false
					}
				}
			}
		}
	}
	if hasCode && code == 0 {
		if hasAnyKey(payload, "full_zip_url", "markdown", "md") {
			return state, true, false
		}
	}

	if failureStates[strings.ToLower(state)] {
		return state, false, true
	}
	if hasCode && code != 0 {
		if int(code) == -60012 && (strings.Contains(lowerMsg, "task not found") || strings.Contains(lowerMsg, "expire")) {
			return state, false, false // benign, non-terminal
		}
		if !strings.Contains(lowerMsg, "processing") && !strings.Contains(lowerMsg, "running") {
			return state, false, true
		}
	}
	return state, false, false
}

func extractState(payload map[string]any) string {
	for _, container := range []map[string]any{payload, asMap(payload["data"]), asMap(asMap(payload["data"])["result"])} {
		if container == nil {
			continue
		}
		for _, key := range []string{"state", "status", "task_state", "batch_state"} {
			if s, ok := container[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			return true
		}
	}
	return false
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// extract runs the multi-source output extraction over the terminal
// success payload: direct keys, then embedded URLs, then the result zip,
// then per-file fragments.
func (a *Adapter) extract(ctx context.Context, payload map[string]any, batchID string) (Result, error) {
	md, _, _ := extractMarkdown(payload)
	rows := extractContentList(payload)

	var warning string

	if md == "" {
		if url, ok := findURLBFS(payload, []string{"markdown_url", "md_url", "full_md_url", "full_md"}); ok {
			if text, err := a.download(ctx, url); err == nil {
				md = text
			}
		}
	}
	if rows == nil {
		if url, ok := findURLBFS(payload, []string{"content_list_url", "content_list_json_url", "content_list_json"}); ok {
			if body, err := a.downloadBytes(ctx, url); err == nil {
				var parsed []pageindex.ContentRow
				if json.Unmarshal(body, &parsed) == nil {
					rows = parsed
				}
			}
		}
	}

	if md == "" || rows == nil {
		if url, ok := findURLBFS(payload, []string{"full_zip_url", "zip_url", "result_zip_url", "download_url"}); ok {
			zmd, zrows, err := a.downloadZip(ctx, url)
			if err == nil {
				if md == "" {
					md = zmd
				}
				if rows == nil {
					rows = zrows
				}
			}
		}
	}

	if md == "" {
		if data, ok := payload["data"].(map[string]any); ok {
			if files, ok := data["files"].([]any); ok {
				var parts []string
				for _, f := range files {
					fm, ok := f.(map[string]any)
					if !ok {
						continue
					}
					for _, key := range []string{"markdown", "md", "full_md"} {
						if s, ok := fm[key].(string); ok && s != "" {
							parts = append(parts, s)
							break
						}
					}
				}
				if len(parts) > 0 {
					md = strings.Join(parts, "\n\n---\n\n")
				}
			}
		}
	}

	if strings.TrimSpace(md) == "" {
		return Result{}, errf("empty_markdown", "no markdown could be extracted from the terminal parse payload")
	}

	return Result{
		Markdown:    md,
		ContentList: rows,
		BatchID:     batchID,
		RawResult:   payload,
		Provider:    "mineru",
		Warning:     warning,
	}, nil
}

func extractMarkdown(payload map[string]any) (string, bool, error) {
	containers := []map[string]any{payload, asMap(payload["data"]), asMap(asMap(payload["data"])["result"])}
	for _, c := range containers {
		if c == nil {
			continue
		}
		for _, key := range []string{"markdown", "md", "full_md", "full_markdown"} {
			if s, ok := c[key].(string); ok && s != "" {
				return s, true, nil
			}
		}
	}
	return "", false, nil
}

func extractContentList(payload map[string]any) []pageindex.ContentRow {
	containers := []map[string]any{payload, asMap(payload["data"])}
	for _, c := range containers {
		if c == nil {
			continue
		}
		for _, key := range []string{"content_list", "content_list_json", "mineru_content_list"} {
			raw, ok := c[key]
			if !ok {
				continue
			}
			if rows, ok := coerceContentList(raw); ok {
				return rows
			}
		}
	}
	return nil
}

func coerceContentList(raw any) ([]pageindex.ContentRow, bool) {
	arr, ok := raw.([]any)
	if !ok {
		if s, ok := raw.(string); ok {
			var parsed []any
			if json.Unmarshal([]byte(s), &parsed) == nil {
				arr = parsed
			}
		}
	}
	if arr == nil {
		return nil, false
	}
	var rows []pageindex.ContentRow
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		row := pageindex.ContentRow{Type: "text"}
		if pi, ok := asFloat(m["page_idx"]); ok {
			row.PageIdx = int(pi)
		}
		if t, ok := m["type"].(string); ok {
			row.Type = t
		}
		if t, ok := m["text"].(string); ok {
			row.Text = t
		}
		rows = append(rows, row)
	}
	return rows, len(rows) > 0
}

// resolveURL resolves a relative token against the configured base URL, or
// returns absolute http(s) URLs verbatim.
func (a *Adapter) resolveURL(token string) string {
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return token
	}
	base := strings.TrimRight(a.cfg.BaseURL, "/")
	return base + "/" + strings.TrimLeft(token, "/")
}

func (a *Adapter) download(ctx context.Context, url string) (string, error) {
	b, err := a.downloadBytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a *Adapter) downloadBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolveURL(url), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (a *Adapter) downloadZip(ctx context.Context, url string) (string, []pageindex.ContentRow, error) {
	b, err := a.downloadBytes(ctx, url)
	if err != nil {
		return "", nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", nil, err
	}

	var mdParts []string
	var rows []pageindex.ContentRow
	for _, f := range zr.File {
		switch {
		case strings.HasSuffix(f.Name, ".md"):
			rc, err := f.Open()
			if err != nil {
				continue
			}
			content, _ := io.ReadAll(rc)
			rc.Close()
			mdParts = append(mdParts, string(content))
		case rows == nil && strings.HasSuffix(f.Name, "_content_list.json"):
			rc, err := f.Open()
			if err != nil {
				continue
			}
			content, _ := io.ReadAll(rc)
			rc.Close()
			var parsed []pageindex.ContentRow
			if json.Unmarshal(content, &parsed) == nil {
				rows = parsed
			}
		}
	}
	return strings.Join(mdParts, "\n\n---\n\n"), rows, nil
}
