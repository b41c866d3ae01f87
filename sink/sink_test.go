package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/use-agent/propintel/models"
)

func row(worker, i int) models.Fields {
	return models.Fields{
		models.FieldURL:      fmt.Sprintf("https://example.test/p/%d-%d", worker, i),
		models.FieldCity:     fmt.Sprintf("city-%d", worker),
		models.FieldBHK:      i%4 + 1,
		models.FieldPrice:    float64(i) + 0.5,
		models.FieldTitle:    "Flat, \"sea facing\"\nwith balcony",
		models.FieldLocation: "Andheri West",
	}
}

func hammer(t *testing.T, s Sink, workers, perWorker int) {
	t.Helper()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := s.Append(context.Background(), row(w, i)); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestJSONL_ConcurrentAppends(t *testing.T) {
	const workers, perWorker = 8, 200
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	s, err := NewJSONL(path, true)
	if err != nil {
		t.Fatal(err)
	}
	hammer(t, s, workers, perWorker)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("corrupt line %q: %v", sc.Text(), err)
		}
		seen[m[models.FieldURL].(string)] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("distinct records = %d, want %d", len(seen), workers*perWorker)
	}
}

func TestJSONL_TruncateAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.jsonl")
	for round, truncate := range []bool{true, false, true} {
		s, err := NewJSONL(path, truncate)
		if err != nil {
			t.Fatal(err)
		}
		s.Append(context.Background(), row(0, round))
		s.Close()
	}
	data, _ := os.ReadFile(path)
	if n := bytes.Count(data, []byte("\n")); n != 1 {
		t.Errorf("lines after truncate = %d, want 1", n)
	}
}

func TestCSV_ConcurrentAppends(t *testing.T) {
	const workers, perWorker = 8, 200
	path := filepath.Join(t.TempDir(), "records.csv")
	s, err := NewCSV(path, CSVOptions{Truncate: true})
	if err != nil {
		t.Fatal(err)
	}
	hammer(t, s, workers, perWorker)
	s.Close()

	f, _ := os.Open(path)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv corrupt: %v", err)
	}
	want := []string{"bhk", "city", "location", "price", "title", "url"}
	if !slices.Equal(rows[0], want) {
		t.Errorf("header = %v, want %v", rows[0], want)
	}
	if len(rows)-1 != workers*perWorker {
		t.Errorf("data rows = %d, want %d", len(rows)-1, workers*perWorker)
	}
	for _, r := range rows[1:] {
		if len(r) != len(want) {
			t.Fatalf("ragged row %v", r)
		}
	}
}

func TestCSV_HeaderFixedByFirstRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.csv")
	s, err := NewCSV(path, CSVOptions{Truncate: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s.Append(ctx, models.Fields{"url": "u1", "bhk": 2})
	s.Append(ctx, models.Fields{"url": "u2", "bhk": 3, "price": 1.5})
	s.Close()

	// Reopen without truncation: the existing header is reused.
	s, err = NewCSV(path, CSVOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if h := s.Header(); !slices.Equal(h, []string{"bhk", "url"}) {
		t.Errorf("reopened header = %v", h)
	}
	s.Append(ctx, models.Fields{"url": "u3"})
	s.Close()

	f, _ := os.Open(path)
	defer f.Close()
	rows, _ := csv.NewReader(f).ReadAll()
	want := [][]string{{"bhk", "url"}, {"2", "u1"}, {"3", "u2"}, {"", "u3"}}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v", rows)
	}
	for i := range want {
		if !slices.Equal(rows[i], want[i]) {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestCSV_ConfiguredColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.csv")
	s, err := NewCSV(path, CSVOptions{Truncate: true, Columns: []string{"url", "price"}})
	if err != nil {
		t.Fatal(err)
	}
	s.Append(context.Background(), models.Fields{"url": "u1", "price": 12.25, "bhk": 2})
	s.Close()

	f, _ := os.Open(path)
	defer f.Close()
	rows, _ := csv.NewReader(f).ReadAll()
	if len(rows) != 2 || !slices.Equal(rows[1], []string{"u1", "12.25"}) {
		t.Errorf("rows = %v", rows)
	}
}

type memSink struct {
	mu   sync.Mutex
	rows []string
	fail bool
}

func (m *memSink) Append(_ context.Context, row models.Fields) error {
	if m.fail {
		return errors.New("down")
	}
	m.mu.Lock()
	m.rows = append(m.rows, row[models.FieldURL].(string))
	m.mu.Unlock()
	return nil
}

func (m *memSink) Close() error { return nil }

func TestMulti_SameOrderEverywhere(t *testing.T) {
	a, b, broken := &memSink{}, &memSink{}, &memSink{fail: true}
	m := NewMulti(a, broken, b)

	var wg sync.WaitGroup
	var errCount int
	var mu sync.Mutex
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := m.Append(context.Background(), row(w, i)); err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	if !slices.Equal(a.rows, b.rows) || len(a.rows) != 200 {
		t.Errorf("outputs diverged: %d vs %d rows", len(a.rows), len(b.rows))
	}
	if errCount != 200 {
		t.Errorf("errors = %d, want one per append", errCount)
	}
}
