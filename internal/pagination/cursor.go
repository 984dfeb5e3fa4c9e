// Package pagination provides opaque cursors over append-only, sequence
// ordered listings such as the audit log.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

const cursorPrefix = "seq:"

// Cursor is the last sequence number a client has seen. The zero Cursor
// starts from the beginning.
type Cursor struct {
	After int64
}

// Encode returns an opaque cursor string for seq.
func Encode(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(seq, 10)))
}

// Decode parses an opaque cursor string. Empty input is the zero Cursor.
func Decode(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor")
	}
	n, ok := strings.CutPrefix(string(raw), cursorPrefix)
	if !ok {
		return Cursor{}, fmt.Errorf("invalid cursor")
	}
	seq, err := strconv.ParseInt(n, 10, 64)
	if err != nil || seq < 0 {
		return Cursor{}, fmt.Errorf("invalid cursor")
	}
	return Cursor{After: seq}, nil
}

// ParseLimit clamps a limit query parameter to [1, MaxLimit], using
// DefaultLimit when s is empty or unparseable.
func ParseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}

// Page returns up to limit items after cur from items sorted ascending by
// seq, plus the cursor for the next page and whether more remain.
func Page[T any](items []T, cur Cursor, limit int, seq func(T) int64) ([]T, string, bool) {
	start := len(items)
	for i, it := range items {
		if seq(it) > cur.After {
			start = i
			break
		}
	}
	items = items[start:]
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	return items, Encode(seq(items[len(items)-1])), true
}
