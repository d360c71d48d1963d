package usage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LoadResult holds the entries read from a ledger directory.
type LoadResult struct {
	Entries []LogEntry
	Errors  []error
	Missing bool // the directory does not exist yet
}

// Load reads every daily file in dir. Entries older than since are skipped
// when since is non-zero.
func Load(dir string, since time.Time) LoadResult {
	var result LoadResult

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		result.Missing = true
		return result
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".jsonl") {
			continue
		}
		entries, err := loadFile(filepath.Join(dir, file.Name()), since)
		result.Entries = append(result.Entries, entries...)
		if err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	sort.SliceStable(result.Entries, func(i, j int) bool {
		return result.Entries[i].Timestamp.Before(result.Entries[j].Timestamp)
	})
	return result
}

func loadFile(path string, since time.Time) ([]LogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // Skip invalid lines
		}
		if !since.IsZero() && entry.Timestamp.Before(since) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Totals aggregates ledger entries for one day and model.
type Totals struct {
	Date             string
	Model            string
	Queries          int
	Failures         int
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	CachedTokens     int
}

// Summarize groups entries by local date and model, ordered by date then
// model.
func Summarize(entries []LogEntry) []Totals {
	type key struct{ date, model string }
	byKey := make(map[key]*Totals)
	var order []key

	for _, e := range entries {
		k := key{date: e.Timestamp.Local().Format("2006-01-02"), model: e.Model}
		t, ok := byKey[k]
		if !ok {
			t = &Totals{Date: k.date, Model: k.model}
			byKey[k] = t
			order = append(order, k)
		}
		t.Queries++
		if e.Failed {
			t.Failures++
		}
		t.PromptTokens += e.PromptTokens
		t.CompletionTokens += e.CompletionTokens
		t.ReasoningTokens += e.ReasoningTokens
		t.CachedTokens += e.CachedTokens
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].date != order[j].date {
			return order[i].date < order[j].date
		}
		return order[i].model < order[j].model
	})

	out := make([]Totals, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}
