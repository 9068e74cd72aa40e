package artifactmirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWithEmptyBucketIsNoOp(t *testing.T) {
	m, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("New with empty bucket should never error, got %v", err)
	}
	if m.Enabled() {
		t.Fatal("expected an empty-bucket Mirror to report disabled")
	}
}

func TestNilMirrorIsDisabled(t *testing.T) {
	var m *Mirror
	if m.Enabled() {
		t.Fatal("expected a nil *Mirror to report disabled")
	}
}

func TestUploadOnDisabledMirrorIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.txt")
	if err := os.WriteFile(path, []byte("report"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := New(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Upload(context.Background(), nil, "job-1", "artifact.txt", path); err != nil {
		t.Fatalf("Upload on a disabled mirror should be a no-op, got %v", err)
	}
}
