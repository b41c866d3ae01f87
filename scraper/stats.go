package scraper

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	jsoniter "github.com/json-iterator/go"

	"github.com/use-agent/propintel/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReadStats summarizes field completion in a JSONL record stream.
func ReadStats(path string, top int) (*models.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scraper: open stats source: %w", err)
	}
	defer f.Close()
	return Stats(f, top)
}

// Stats reads JSONL records from r. Malformed lines are skipped.
func Stats(r io.Reader, top int) (*models.Stats, error) {
	st := &models.Stats{ByCity: map[string]int{}}
	locations := map[string]int{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Debug("stats: skipping malformed line", "error", err)
			continue
		}
		st.Records++
		if present(rec[models.FieldPrice]) {
			st.WithPrice++
		}
		if present(rec[models.FieldAreaSqft]) {
			st.WithArea++
		}
		if present(rec[models.FieldBHK]) {
			st.WithBHK++
		}
		if loc, ok := rec[models.FieldLocation].(string); ok && loc != "" {
			st.WithLocation++
			locations[loc]++
		}
		if city, ok := rec[models.FieldCity].(string); ok && city != "" {
			st.ByCity[city]++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scraper: read stats source: %w", err)
	}

	for loc, n := range locations {
		st.TopLocations = append(st.TopLocations, models.LocationCount{Location: loc, Count: n})
	}
	slices.SortFunc(st.TopLocations, func(a, b models.LocationCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Location, b.Location)
	})
	if top > 0 && len(st.TopLocations) > top {
		st.TopLocations = st.TopLocations[:top]
	}
	return st, nil
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	}
	return true
}
