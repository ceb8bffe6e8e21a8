package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/loadpair/internal/loadgen/engine"
)

// WriteJSON writes the run summary as indented JSON.
func WriteJSON(w io.Writer, s *engine.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

// ExportJSON writes the run summary to path, or to stdout when path is "-".
func ExportJSON(path string, s *engine.RunSummary) error {
	if path == "-" {
		return WriteJSON(os.Stdout, s)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := WriteJSON(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
