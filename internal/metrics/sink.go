package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// SummaryWriter persists one session summary.
type SummaryWriter interface {
	Write(sum Summary) error
}

// JSONLSink appends session summaries to a file, one JSON object per line.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// Compile-time interface assertion.
var _ SummaryWriter = (*JSONLSink)(nil)

// NewJSONLSink opens (or creates) the file at path for appending, creating
// parent directories as needed.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("metrics: create dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("metrics: open %q: %w", path, err)
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

// Write appends one summary line. Safe for concurrent use.
func (s *JSONLSink) Write(sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(sum); err != nil {
		return fmt.Errorf("metrics: encode summary: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
