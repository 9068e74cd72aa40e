package agent

import (
	"context"
	"errors"
	"testing"
)

func TestIsTransientErrorClassifiesRateLimitAnd5xx(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", ErrRateLimited, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 429", &HTTPError{StatusCode: 429}, true},
		{"http 400", &HTTPError{StatusCode: 400}, false},
		{"validation", &ValidationError{Msg: "bad input"}, false},
		{"connection reset text", errors.New("dial tcp: connection reset by peer"), true},
		{"unrelated", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransientError(tc.err); got != tc.want {
				t.Fatalf("isTransientError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsFatalErrorClassifies4xxAndValidation(t *testing.T) {
	if !isFatalError(&ValidationError{Msg: "x"}) {
		t.Fatal("validation errors should be fatal")
	}
	if !isFatalError(&HTTPError{StatusCode: 400}) {
		t.Fatal("http 400 should be fatal")
	}
	if isFatalError(&HTTPError{StatusCode: 429}) {
		t.Fatal("http 429 should not be fatal (retryable)")
	}
	if isFatalError(&HTTPError{StatusCode: 500}) {
		t.Fatal("http 500 should not be fatal (retryable)")
	}
	if isFatalError(nil) {
		t.Fatal("nil error should not be fatal")
	}
}

func TestIsAnthropicRefusal(t *testing.T) {
	if isAnthropicRefusal("short") {
		t.Fatal("too-short strings should never be flagged")
	}
	if !isAnthropicRefusal("I'm sorry, I cannot assist with that request.") {
		t.Fatal("expected refusal phrase to be detected")
	}
	if isAnthropicRefusal("Here is the summary section you asked for: ...") {
		t.Fatal("ordinary content should not be flagged as a refusal")
	}
}

func TestToolChoicePayload(t *testing.T) {
	if got := toolChoicePayload(nil); got != nil {
		t.Fatalf("expected nil tool_choice for auto, got %v", got)
	}
	required := "required"
	if got := toolChoicePayload(&required); got["type"] != "any" {
		t.Fatalf("expected {type:any} for required, got %v", got)
	}
	name := "review_final_markdown_write"
	got := toolChoicePayload(&name)
	if got["type"] != "tool" || got["name"] != name {
		t.Fatalf("expected forced tool choice payload, got %v", got)
	}
}
