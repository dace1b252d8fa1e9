// Package ui renders the in-place progress lines a running maker or
// manager command prints to a terminal: one line per concern (extract,
// generate, wait, download), each replaced in place rather than
// scrolling the terminal as it updates.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// UI tracks a set of named text lines written to an output stream and
// moves the cursor to rewrite one in place instead of reprinting
// everything below it. Safe for concurrent use.
type UI struct {
	mu  sync.Mutex
	out io.Writer

	lines  map[string]*line
	cursor int
	nextID uint64
}

type line struct {
	position int
	text     string
}

// New returns a UI writing to out.
func New(out io.Writer) *UI {
	return &UI{out: out, lines: map[string]*line{}}
}

func (u *UI) lastLine() int { return len(u.lines) }

// moveCursorTo emits the ANSI cursor-movement escape needed to go from
// the current line to pos, and updates the tracked cursor position.
// Callers must hold u.mu.
func (u *UI) moveCursorTo(pos int) {
	offset := pos - u.cursor
	if offset == 0 {
		return
	}
	dir := "B"
	if offset < 0 {
		dir = "A"
		offset = -offset
	}
	fmt.Fprintf(u.out, "\x1b[%d%s\r", offset, dir)
	u.cursor = pos
}

// AddLine prints a new line and returns the ID to use to update or
// remove it later.
func (u *UI) AddLine(text string) string {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.moveCursorTo(u.lastLine())
	fmt.Fprintln(u.out, text)

	u.nextID++
	id := fmt.Sprintf("%x", u.nextID)
	u.lines[id] = &line{position: u.cursor, text: text}
	u.cursor++
	return id
}

// ReplaceLine overwrites the text of the line identified by id. It is a
// no-op if id is unknown, since a line may legitimately be replaced
// after it was already removed by a concurrent cleanup.
func (u *UI) ReplaceLine(id, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	l, ok := u.lines[id]
	if !ok {
		return
	}

	u.moveCursorTo(l.position)
	fmt.Fprintf(u.out, "%s\r", strings.Repeat(" ", len(l.text)))
	fmt.Fprintf(u.out, "%s\r", text)
	l.text = text

	u.moveCursorTo(u.lastLine())
}

// RemoveLine erases the line identified by id and shifts every line
// below it up by one, matching the effect of the line never having
// scrolled past. It is a no-op if id is unknown.
func (u *UI) RemoveLine(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	target, ok := u.lines[id]
	if !ok {
		return
	}

	u.moveCursorTo(target.position)
	fmt.Fprintf(u.out, "%s\r", strings.Repeat(" ", len(target.text)))

	below := make([]*line, 0, len(u.lines))
	for otherID, l := range u.lines {
		if otherID != id && l.position > target.position {
			below = append(below, l)
		}
	}
	sort.Slice(below, func(i, j int) bool { return below[i].position < below[j].position })

	for _, l := range below {
		u.moveCursorTo(l.position)
		fmt.Fprintf(u.out, "%s\r", strings.Repeat(" ", len(l.text)))
		u.moveCursorTo(l.position - 1)
		fmt.Fprintf(u.out, "%s\r", l.text)
		l.position--
	}

	delete(u.lines, id)
	u.moveCursorTo(u.lastLine())
}
