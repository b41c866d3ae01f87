package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/use-agent/propintel/models"
)

// CSV appends rows under a fixed header. The header is the configured
// column list, else the existing file's first line, else the first row's
// keys in sorted order. Fields outside the header are dropped.
type CSV struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *csv.Writer
	header []string
	warned map[string]bool
}

// CSVOptions configures a CSV sink.
type CSVOptions struct {
	Truncate bool
	Columns  []string
}

// NewCSV opens path for appending.
func NewCSV(path string, opts CSVOptions) (*CSV, error) {
	var header []string
	if !opts.Truncate {
		h, err := readHeader(path)
		if err != nil {
			return nil, err
		}
		header = h
	}
	if header == nil && len(opts.Columns) > 0 {
		header = slices.Clone(opts.Columns)
	}

	f, err := openAppend(path, opts.Truncate)
	if err != nil {
		return nil, err
	}
	c := &CSV{path: path, f: f, w: csv.NewWriter(f), warned: map[string]bool{}}

	if header != nil {
		if st, err := f.Stat(); err == nil && st.Size() == 0 {
			if err := c.writeRow(header); err != nil {
				f.Close()
				return nil, err
			}
		}
		c.header = header
	}
	return c, nil
}

// readHeader returns the header of an existing non-empty file, nil otherwise.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	defer f.Close()
	h, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sink: read csv header of %s: %w", path, err)
	}
	return h, nil
}

// Header returns the column order, nil until the first row.
func (c *CSV) Header() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.header)
}

func (c *CSV) Append(_ context.Context, row models.Fields) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return errors.New("sink: csv closed")
	}

	if c.header == nil {
		c.header = slices.Sorted(maps.Keys(row))
		if err := c.writeRow(c.header); err != nil {
			return err
		}
	}

	for k := range row {
		if !slices.Contains(c.header, k) && !c.warned[k] {
			c.warned[k] = true
			slog.Warn("csv sink dropping field outside header", "field", k, "path", c.path)
		}
	}

	rec := make([]string, len(c.header))
	for i, col := range c.header {
		rec[i] = formatValue(row[col])
	}
	return c.writeRow(rec)
}

func (c *CSV) writeRow(rec []string) error {
	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("sink: write %s: %w", c.path, err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("sink: flush %s: %w", c.path, err)
	}
	return nil
}

func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	c.w.Flush()
	err := errors.Join(c.w.Error(), c.f.Close())
	c.f = nil
	return err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
