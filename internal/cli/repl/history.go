package repl

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/sessionkeep-go/internal/telemetry/logger"
)

// DefaultHistorySize bounds the persisted history.
const DefaultHistorySize = 500

// History manages command history for the REPL. Lines that look like they
// carry a secret are never recorded.
type History struct {
	entries []string
	maxSize int
	file    string
}

// NewHistory creates a history persisted at file. An empty file keeps
// history in memory only.
func NewHistory(file string, maxSize int) *History {
	if maxSize <= 0 {
		maxSize = DefaultHistorySize
	}
	return &History{maxSize: maxSize, file: file}
}

// Add records a command. Consecutive duplicates are collapsed.
func (h *History) Add(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}
	for _, field := range strings.Fields(cmd) {
		if logger.IsSensitiveValue(field) {
			return
		}
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == cmd {
		return
	}
	h.entries = append(h.entries, cmd)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
}

// Get returns the history entry at index (0 = most recent).
func (h *History) Get(index int) string {
	if index < 0 || index >= len(h.entries) {
		return ""
	}
	return h.entries[len(h.entries)-1-index]
}

// Entries returns the history, oldest first.
func (h *History) Entries() []string {
	return append([]string(nil), h.entries...)
}

// Load reads history from the file; a missing file is not an error.
func (h *History) Load() error {
	if h.file == "" {
		return nil
	}
	file, err := os.Open(h.file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		h.Add(scanner.Text())
	}
	return scanner.Err()
}

// Save writes the history to the file with 0600 permissions.
func (h *History) Save() error {
	if h.file == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.file), 0o700); err != nil {
		return err
	}

	var b strings.Builder
	for _, entry := range h.entries {
		b.WriteString(entry)
		b.WriteByte('\n')
	}
	return os.WriteFile(h.file, []byte(b.String()), 0o600)
}
