// Package tools implements the nine tool contracts exposed to the review
// agent, operating on a toolruntime.Runtime.
package tools

import "encoding/json"

// OutcomeStatus is the tool-call status enum.
type OutcomeStatus string

const (
	StatusOK          OutcomeStatus = "ok"
	StatusError       OutcomeStatus = "error"
	StatusPartial     OutcomeStatus = "partial"
	StatusNotAvailable OutcomeStatus = "not_available"
)

// Outcome is the structured payload every tool returns. It models the sum
// type `Ok(payload) | Partial(payload) | ErrorCode(code, message,
// next_steps) | NotAvailable` as one struct with an explicit Status
// discriminator, flattened to JSON at the agent-framework boundary.
type Outcome struct {
	Status       OutcomeStatus
	Message      string
	Reason       string
	RetryRequired bool
	RetryTool    string
	NextSteps    []string
	Fields       map[string]any
}

// MarshalJSON flattens Fields alongside the fixed envelope keys.
func (o Outcome) MarshalJSON() ([]byte, error) {
	m := map[string]any{"status": o.Status}
	if o.Message != "" {
		m["message"] = o.Message
	}
	if o.Reason != "" {
		m["reason"] = o.Reason
	}
	if o.Status == StatusError || o.Status == StatusPartial {
		m["retry_required"] = o.RetryRequired
		if o.RetryTool != "" {
			m["retry_tool"] = o.RetryTool
		}
	}
	if len(o.NextSteps) > 0 {
		m["next_steps"] = o.NextSteps
	}
	for k, v := range o.Fields {
		m[k] = v
	}
	return json.Marshal(m)
}

// Ok builds a success outcome with the given extra fields.
func Ok(message string, fields map[string]any) Outcome {
	return Outcome{Status: StatusOK, Message: message, Fields: fields}
}

// ErrOutcome builds a retryable error outcome.
func ErrOutcome(reason, message, retryTool string, nextSteps ...string) Outcome {
	return Outcome{
		Status: StatusError, Reason: reason, Message: message,
		RetryRequired: true, RetryTool: retryTool, NextSteps: nextSteps,
	}
}

// Partial builds a partial-progress outcome.
func Partial(reason, message string, fields map[string]any, nextSteps ...string) Outcome {
	return Outcome{Status: StatusPartial, Reason: reason, Message: message, Fields: fields, NextSteps: nextSteps, RetryRequired: true}
}

// NotAvailable builds the not_available outcome (question_prompt only).
func NotAvailable(message string) Outcome {
	return Outcome{Status: StatusNotAvailable, Message: message}
}
