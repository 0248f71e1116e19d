package repl

import (
	"sort"
	"strings"
)

// Completer provides command completion for the REPL.
type Completer struct {
	commands []string
}

// NewCompleter creates a completer over the given command names.
func NewCompleter(commands ...string) *Completer {
	sorted := append([]string(nil), commands...)
	sort.Strings(sorted)
	return &Completer{commands: sorted}
}

// Complete returns completion suggestions for the given prefix.
func (c *Completer) Complete(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var suggestions []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}

// Suggest returns the commands closest to an unknown word: prefix matches
// first, otherwise those within two edits.
func (c *Completer) Suggest(word string) []string {
	word = strings.ToLower(word)
	if word == "" {
		return nil
	}
	if s := c.Complete(word); len(s) > 0 {
		return s
	}

	var suggestions []string
	for _, cmd := range c.commands {
		if distance(word, cmd) <= 2 {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}

// distance is the Levenshtein distance between a and b.
func distance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
