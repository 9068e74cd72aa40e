package tools

import (
	"encoding/json"
	"fmt"

	"github.com/local/deepreview/internal/jobstore"
)

func writeJSONArtifact(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("tools: encode artifact: %w", err)
	}
	return jobstore.AtomicWriteFile(path, b)
}

func writeTextArtifact(path string, text string) error {
	return jobstore.AtomicWriteFile(path, []byte(text))
}
