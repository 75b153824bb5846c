package framing

import (
	"bytes"
	"strings"
)

// Event is one server-sent event. Multiple data lines are joined with "\n".
type Event struct {
	Name string
	Data string
	ID   string
}

// SSEParser turns a byte stream into server-sent events. Events are
// dispatched on a blank line; comments and unknown fields are ignored.
type SSEParser struct {
	lines LineBuffer
	cur   pending
}

type pending struct {
	name    string
	id      string
	data    []string
	hasData bool
}

// Push feeds p and returns the events it completes.
func (p *SSEParser) Push(b []byte) []Event {
	var events []Event
	for _, line := range p.lines.Push(b) {
		if ev, ok := p.processLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush completes a trailing event that was not followed by a blank line.
func (p *SSEParser) Flush() []Event {
	var events []Event
	if rest := p.lines.Flush(); rest != nil {
		if ev, ok := p.processLine(rest); ok {
			events = append(events, ev)
		}
	}
	if ev, ok := p.dispatch(); ok {
		events = append(events, ev)
	}
	return events
}

func (p *SSEParser) processLine(line []byte) (Event, bool) {
	if len(line) == 0 {
		return p.dispatch()
	}
	if line[0] == ':' {
		return Event{}, false
	}
	field, value, found := bytes.Cut(line, []byte(":"))
	if found {
		value = bytes.TrimPrefix(value, []byte(" "))
	}
	switch string(field) {
	case "event":
		p.cur.name = string(value)
	case "data":
		p.cur.data = append(p.cur.data, string(value))
		p.cur.hasData = true
	case "id":
		p.cur.id = string(value)
	}
	return Event{}, false
}

func (p *SSEParser) dispatch() (Event, bool) {
	cur := p.cur
	p.cur = pending{}
	if !cur.hasData && cur.name == "" {
		return Event{}, false
	}
	return Event{Name: cur.name, Data: strings.Join(cur.data, "\n"), ID: cur.id}, true
}
