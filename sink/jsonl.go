package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/use-agent/propintel/models"
)

// Sorted map keys keep lines stable across runs.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONL appends one JSON object per line.
type JSONL struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONL opens path for appending, creating parent directories. With
// truncate the file starts empty.
func NewJSONL(path string, truncate bool) (*JSONL, error) {
	f, err := openAppend(path, truncate)
	if err != nil {
		return nil, err
	}
	return &JSONL{path: path, f: f}, nil
}

// Path returns the output file.
func (j *JSONL) Path() string { return j.path }

func (j *JSONL) Append(_ context.Context, row models.Fields) error {
	line, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("sink: encode jsonl row: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("sink: jsonl closed")
	}
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("sink: write %s: %w", j.path, err)
	}
	return nil
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

func openAppend(path string, truncate bool) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sink: create output dir: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return f, nil
}
