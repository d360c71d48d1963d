package usage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogEntry is one completion recorded in the usage ledger.
type LogEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	ReasoningTokens  int       `json:"reasoning_tokens,omitempty"`
	CachedTokens     int       `json:"cached_tokens,omitempty"`
	Failed           bool      `json:"failed,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Logger writes usage entries to daily JSONL files
type Logger struct {
	baseDir string
	mu      sync.Mutex
}

// NewLogger creates a Logger writing below dir, or below the XDG data
// directory when dir is empty.
func NewLogger(dir string) *Logger {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Logger{baseDir: dir}
}

// Dir returns the directory holding the daily files.
func (l *Logger) Dir() string {
	return l.baseDir
}

// Log writes a usage entry to the appropriate daily file
func (l *Logger) Log(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.baseDir, 0755); err != nil {
		return err
	}

	date := entry.Timestamp.Format("2006-01-02")
	filename := filepath.Join(l.baseDir, date+".jsonl")

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

// DefaultDir returns the XDG data directory for grok-mind usage logs
func DefaultDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "grok-mind", "usage")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".grok-mind", "usage")
	}

	return filepath.Join(homeDir, ".local", "share", "grok-mind", "usage")
}
