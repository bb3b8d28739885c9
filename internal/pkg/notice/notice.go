// Package notice collects the human-readable diagnostics produced while
// handling one request and carries them to the editor.
package notice

import "fmt"

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelMessage Level = "message"
)

type Notice struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// List is an append-only, single-writer notice list scoped to one request.
// The zero value is ready to use; methods on a nil *List are no-ops.
type List struct {
	items []Notice
}

func (l *List) Error(format string, args ...interface{}) {
	l.add(LevelError, format, args...)
}

func (l *List) Warning(format string, args ...interface{}) {
	l.add(LevelWarning, format, args...)
}

func (l *List) Message(format string, args ...interface{}) {
	l.add(LevelMessage, format, args...)
}

func (l *List) add(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	l.items = append(l.items, Notice{Level: level, Text: text})
}

// Items returns a copy of the collected notices in insertion order.
func (l *List) Items() []Notice {
	if l == nil {
		return []Notice{}
	}
	out := make([]Notice, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Count returns how many notices have the given level.
func (l *List) Count(level Level) int {
	if l == nil {
		return 0
	}
	n := 0
	for _, item := range l.items {
		if item.Level == level {
			n++
		}
	}
	return n
}

// Texts returns the texts of the notices with the given level.
func (l *List) Texts(level Level) []string {
	if l == nil {
		return nil
	}
	var out []string
	for _, item := range l.items {
		if item.Level == level {
			out = append(out, item.Text)
		}
	}
	return out
}
