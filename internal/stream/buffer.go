// Package stream turns a raw byte stream into a bounded log of lines and
// rate-limits how often that log is redrawn.
package stream

import "paperpiper/internal/activity"

// DefaultCapacity is the number of lines the log keeps.
const DefaultCapacity = 100

// Log is a fixed-capacity FIFO of completed lines. The oldest line is
// evicted when a new one arrives at capacity.
type Log struct {
	lines []string
	head  int
	size  int
}

// NewLog returns an empty log (capacity <= 0 means DefaultCapacity).
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{lines: make([]string, capacity)}
}

// Append adds a line, evicting the oldest when full.
func (l *Log) Append(line string) {
	c := len(l.lines)
	if l.size < c {
		l.lines[(l.head+l.size)%c] = line
		l.size++
		return
	}
	l.lines[l.head] = line
	l.head = (l.head + 1) % c
}

// Len returns the number of stored lines.
func (l *Log) Len() int { return l.size }

// Cap returns the capacity.
func (l *Log) Cap() int { return len(l.lines) }

// Lines returns the stored lines, oldest first.
func (l *Log) Lines() []string {
	out := make([]string, l.size)
	for i := range out {
		out[i] = l.lines[(l.head+i)%len(l.lines)]
	}
	return out
}

// Clear empties the log.
func (l *Log) Clear() {
	for i := range l.lines {
		l.lines[i] = ""
	}
	l.head, l.size = 0, 0
}

// Accumulator collects bytes into a line. '\r' is dropped, '\n' completes
// the line; a partial line carries over between calls.
type Accumulator struct {
	buf []byte
}

// Feed consumes one byte. When it completes a non-empty line, that line is
// returned with ok set.
func (a *Accumulator) Feed(b byte) (line string, ok bool) {
	switch b {
	case '\r':
		return "", false
	case '\n':
		if len(a.buf) == 0 {
			return "", false
		}
		line = string(a.buf)
		a.buf = a.buf[:0]
		return line, true
	}
	a.buf = append(a.buf, b)
	return "", false
}

// Pending returns the partial line.
func (a *Accumulator) Pending() string { return string(a.buf) }

// Reset drops the partial line.
func (a *Accumulator) Reset() { a.buf = a.buf[:0] }

// DefaultInterval is the minimum time between two stream redraws.
const DefaultInterval activity.Millis = 500

// Debouncer decides when a dirty stream view may be redrawn.
type Debouncer struct {
	interval activity.Millis
	last     activity.Millis
	dirty    bool
}

// NewDebouncer returns a clean debouncer (interval 0 means DefaultInterval).
func NewDebouncer(interval activity.Millis) *Debouncer {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Debouncer{interval: interval}
}

// Mark flags new content.
func (d *Debouncer) Mark() { d.dirty = true }

// Dirty reports whether content changed since the last redraw.
func (d *Debouncer) Dirty() bool { return d.dirty }

// Due reports whether a redraw should happen now.
func (d *Debouncer) Due(now activity.Millis) bool {
	return d.dirty && activity.Since(now, d.last) >= d.interval
}

// Rendered records a redraw at now and clears the dirty flag.
func (d *Debouncer) Rendered(now activity.Millis) {
	d.last = now
	d.dirty = false
}

// Buffer is the stream state owned by the orchestrator: the log, the line
// accumulator and the redraw debouncer.
type Buffer struct {
	Log      *Log
	acc      Accumulator
	debounce *Debouncer
	clearAll bool
}

// NewBuffer returns an empty buffer with default capacity and interval.
func NewBuffer() *Buffer {
	return &Buffer{Log: NewLog(DefaultCapacity), debounce: NewDebouncer(DefaultInterval)}
}

// Consume feeds p byte by byte and returns how many lines completed.
func (b *Buffer) Consume(p []byte) int {
	n := 0
	for _, c := range p {
		if line, ok := b.acc.Feed(c); ok {
			b.Log.Append(line)
			n++
		}
	}
	if n > 0 {
		b.debounce.Mark()
	}
	return n
}

// Reset clears the log and partial line and requests a full-surface clear
// on the next redraw.
func (b *Buffer) Reset() {
	b.Log.Clear()
	b.acc.Reset()
	b.ForceClear()
}

// ForceClear keeps the log but makes the next redraw clear the whole
// surface (font or geometry change).
func (b *Buffer) ForceClear() {
	b.clearAll = true
	b.debounce.Mark()
}

// Due reports whether the debounced redraw should run now.
func (b *Buffer) Due(now activity.Millis) bool { return b.debounce.Due(now) }

// Rendered records a redraw at now and consumes the full-clear request.
func (b *Buffer) Rendered(now activity.Millis) {
	b.debounce.Rendered(now)
	b.clearAll = false
}

// ClearAll reports whether the next redraw must clear the whole surface.
func (b *Buffer) ClearAll() bool { return b.clearAll }
