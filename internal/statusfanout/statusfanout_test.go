package statusfanout

import (
	"context"
	"testing"
)

func TestNewWithEmptyURLIsNoOp(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatalf("New with empty url should never error, got %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected an empty-url Publisher to report disabled")
	}
}

func TestNilPublisherIsDisabled(t *testing.T) {
	var p *Publisher
	if p.Enabled() {
		t.Fatal("expected a nil *Publisher to report disabled")
	}
}

func TestPublishAndFetchOnDisabledPublisherAreNoOps(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(context.Background(), "job-1", "completed", "done"); err != nil {
		t.Fatalf("Publish on a disabled publisher should be a no-op, got %v", err)
	}
	_, _, ok, err := p.Fetch(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Fetch on a disabled publisher should not error, got %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when no Redis is configured")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close on a disabled publisher should be a no-op, got %v", err)
	}
}

func TestNewRejectsInvalidURL(t *testing.T) {
	if _, err := New("not-a-redis-url://###"); err == nil {
		t.Fatal("expected an error for a malformed redis URL")
	}
}

func TestKeyNamespacing(t *testing.T) {
	p := &Publisher{keyNS: "deepreview:job"}
	if got := p.key("job-42"); got != "deepreview:job:job-42:status" {
		t.Fatalf("key() = %q, want deepreview:job:job-42:status", got)
	}
}
