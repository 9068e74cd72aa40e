// Package agent drives a tool-using LLM agent over the Anthropic Messages
// API: a multi-turn loop that sends the prompt, dispatches whatever tool
// calls come back, feeds results forward, and stops when the model stops,
// the turn budget runs out, or the final report lands. The agent's own
// reasoning/prompting strategy remains an external concern; this package
// only drives the wire protocol.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/local/deepreview/internal/metrics"
	"github.com/local/deepreview/internal/toolruntime"
)

// TokenUsage mirrors jobstore.TokenUsage but lives here to keep this
// package free of a jobstore import; the controller copies it across.
type TokenUsage struct {
	Requests int
	Input    int
	Output   int
	Total    int
}

// RunRequest is one attempt of the agent loop.
type RunRequest struct {
	System string
	// UserMessage is the first human-turn content: the full prompt on
	// attempt 1, or a continuation nudge on resumed attempts.
	UserMessage string
	// ToolChoice is nil (model decides), a tool name (forced), or the
	// literal "required" (any tool) -- the two-step escalation of the
	// forced-final-write sub-loop.
	ToolChoice *string
	MaxTurns   int
}

// RunResult summarizes one attempt.
type RunResult struct {
	// StopReason is "final_committed", "max_turns", or "cancelled", or the
	// provider's own stop_reason (e.g. "end_turn") when the model stops
	// calling tools.
	StopReason string
	Usage      TokenUsage
}

// Agent is the interface the Job Controller drives. The agent's internal
// reasoning stays behind this seam.
type Agent interface {
	Run(ctx context.Context, rt *toolruntime.Runtime, req RunRequest) (RunResult, error)
}

// AnthropicAgent drives the Anthropic Messages API tool-use loop.
type AnthropicAgent struct {
	http        *http.Client
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	breaker     *Breaker
}

// NewAnthropicAgent builds an agent bound to one model/key pair.
func NewAnthropicAgent(apiKey, model string, maxTokens int, temperature float64) *AnthropicAgent {
	return &AnthropicAgent{
		http:        &http.Client{Timeout: 120 * time.Second},
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		breaker:     NewBreaker(5*time.Second, 2*time.Minute),
	}
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature,omitempty"`
	System      string         `json:"system,omitempty"`
	Messages    []message      `json:"messages"`
	Tools       []toolDef      `json:"tools,omitempty"`
	ToolChoice  map[string]any `json:"tool_choice,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func toolChoicePayload(choice *string) map[string]any {
	if choice == nil {
		return nil
	}
	if *choice == "required" {
		return map[string]any{"type": "any"}
	}
	return map[string]any{"type": "tool", "name": *choice}
}

// Run drives one attempt: send the prompt, dispatch any tool_use blocks
// through agent.Dispatch, feed results back, and repeat until the model
// stops calling tools, the turn budget is exhausted, the context is
// cancelled, or the Runtime's final markdown latches.
func (a *AnthropicAgent) Run(ctx context.Context, rt *toolruntime.Runtime, req RunRequest) (RunResult, error) {
	if a.apiKey == "" {
		return RunResult{}, &ValidationError{Msg: "missing Anthropic API key"}
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 1000
	}

	tools := make([]toolDef, 0, len(ToolSpecs()))
	for _, t := range ToolSpecs() {
		tools = append(tools, toolDef{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	msgs := []message{{Role: "user", Content: []contentBlock{{Type: "text", Text: req.UserMessage}}}}
	var usage TokenUsage

	for turn := 0; turn < maxTurns; turn++ {
		if ctx.Err() != nil {
			return RunResult{StopReason: "cancelled", Usage: usage}, nil
		}
		if rt.FinalMarkdown() != "" {
			return RunResult{StopReason: "final_committed", Usage: usage}, nil
		}

		resp, err := a.call(ctx, messagesRequest{
			Model: a.model, MaxTokens: a.maxTokens, Temperature: a.temperature,
			System: req.System, Messages: msgs, Tools: tools,
			ToolChoice: toolChoicePayload(req.ToolChoice),
		})
		if err != nil {
			return RunResult{Usage: usage}, err
		}

		usage.Requests++
		usage.Input += resp.Usage.InputTokens
		usage.Output += resp.Usage.OutputTokens
		usage.Total = usage.Input + usage.Output

		assistantMsg := message{Role: "assistant", Content: resp.Content}
		msgs = append(msgs, assistantMsg)

		var toolResults []contentBlock
		sawToolUse := false
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			sawToolUse = true
			resultJSON, status := Dispatch(ctx, rt, block.Name, block.Input)
			metrics.ToolCall(block.Name, string(status))
			toolResults = append(toolResults, contentBlock{
				Type: "tool_result", ToolUseID: block.ID, Content: string(resultJSON),
				IsError: status == "error",
			})
			if rt.FinalMarkdown() != "" {
				break
			}
		}

		if rt.FinalMarkdown() != "" {
			return RunResult{StopReason: "final_committed", Usage: usage}, nil
		}
		if !sawToolUse {
			return RunResult{StopReason: resp.StopReason, Usage: usage}, nil
		}
		msgs = append(msgs, message{Role: "user", Content: toolResults})

		// A forced tool_choice only needs to be honored on the first turn
		// of a forced attempt; once the model has made its required call
		// it is free to keep working normally.
		req.ToolChoice = nil
	}

	return RunResult{StopReason: "max_turns", Usage: usage}, nil
}

func (a *AnthropicAgent) call(ctx context.Context, payload messagesRequest) (messagesResponse, error) {
	breakerKey := "anthropic:" + a.model
	if a.breaker.IsOpen(breakerKey) {
		return messagesResponse{}, &HTTPError{StatusCode: 429, Body: "circuit breaker open"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return messagesResponse{}, &ValidationError{Msg: err.Error()}
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		resp, err := a.doOnce(ctx, body)
		if err == nil {
			if a.breaker.Close(breakerKey) {
				metrics.BreakerClosed()
			}
			metrics.AgentRequest("ok", time.Since(start))
			if isAnthropicRefusal(firstText(resp.Content)) {
				return resp, fmt.Errorf("%w: detected refusal pattern in response", ErrContentRefused)
			}
			return resp, nil
		}
		lastErr = err
		metrics.AgentRequest("error", time.Since(start))
		if !isTransientError(err) {
			return messagesResponse{}, err
		}
		a.breaker.Open(breakerKey)
		metrics.BreakerOpened()
		select {
		case <-ctx.Done():
			return messagesResponse{}, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
	return messagesResponse{}, lastErr
}

func (a *AnthropicAgent) doOnce(ctx context.Context, body []byte) (messagesResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return messagesResponse{}, err
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return messagesResponse{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == 429 {
		return messagesResponse{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return messagesResponse{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var mr messagesResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return messagesResponse{}, fmt.Errorf("agent: decode response: %w", err)
	}
	return mr, nil
}

func firstText(blocks []contentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

// isAnthropicRefusal is a heuristic refusal-phrase scan over the first
// text block of a response.
func isAnthropicRefusal(content string) bool {
	if len(content) < 10 {
		return false
	}
	phrases := []string{
		"i cannot assist", "i'm unable to help", "i cannot provide", "i cannot process",
		"i'm not able to", "i can't help with", "i'm not comfortable", "i must decline",
		"i should not", "i will not", "against my values", "not appropriate for me",
	}
	low := strings.ToLower(content)
	for _, p := range phrases {
		if strings.Contains(low, p) {
			return true
		}
	}
	return false
}
