// Package record writes a run's durable artifacts: the raw generation
// response and the ordered delivery outcomes, one JSON file each.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"narou-digest/webhook"
)

const (
	responseFile = "ai.json"
	outcomesFile = "delivery_outcomes.json"
)

// Writer persists run artifacts under a record directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir. The directory is created on
// first write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteRun writes both artifacts for one run. raw is stored
// pretty-printed when it is valid JSON, verbatim otherwise.
func (w *Writer) WriteRun(raw []byte, outcomes []webhook.Outcome) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("record: create directory %s: %w", w.dir, err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	if err := os.WriteFile(filepath.Join(w.dir, responseFile), pretty.Bytes(), 0o644); err != nil {
		return fmt.Errorf("record: write %s: %w", responseFile, err)
	}

	if outcomes == nil {
		outcomes = []webhook.Outcome{}
	}
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("record: marshal outcomes: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, outcomesFile), data, 0o644); err != nil {
		return fmt.Errorf("record: write %s: %w", outcomesFile, err)
	}

	return nil
}
