// Package marker parses the inline tag convention the text-cleanup service
// uses to flag schedule and to-do spans in cleaned transcripts:
//
//	[SCHEDULE: 早上七点开会]
//	[TODO: 买牛奶 | deadline: 今天 | priority: high]
//
// The tags are a contract with the cleanup model, so the parser is lenient
// about what the model actually produces: full-width separators, nested
// brackets inside the payload, and stray unclosed brackets in surrounding
// prose all have to be handled rather than rejected.
package marker

import "strings"

// Kind discriminates marker types.
type Kind int

const (
	KindSchedule Kind = iota
	KindTodo
)

func (k Kind) String() string {
	if k == KindTodo {
		return "TODO"
	}
	return "SCHEDULE"
}

// Marker is one parsed tag.
type Marker struct {
	Kind Kind

	// Text is the schedule description or the to-do title.
	Text string

	// Deadline and Priority are the raw field values of a TODO tag,
	// empty when absent.
	Deadline string
	Priority string

	// Start and End are byte offsets of the whole tag in the input,
	// End exclusive.
	Start int
	End   int
}

type parser struct {
	input string
	pos   int
}

// Parse extracts all well-formed markers from text, in order of appearance.
// Malformed candidates (unknown keyword, missing separator, unclosed
// bracket, empty payload) are skipped as ordinary prose, never errors.
func Parse(text string) []Marker {
	p := &parser{input: text}
	var out []Marker
	for p.pos < len(p.input) {
		open := strings.IndexByte(p.input[p.pos:], '[')
		if open < 0 {
			break
		}
		p.pos += open
		if m, ok := p.parseMarker(); ok {
			out = append(out, m)
		} else {
			// Not a marker: step past the bracket and keep scanning.
			p.pos++
		}
	}
	return out
}

// Strip returns text with every well-formed marker replaced by its payload
// text, yielding the human-readable sentence.
func Strip(text string) string {
	markers := Parse(text)
	if len(markers) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range markers {
		b.WriteString(text[last:m.Start])
		b.WriteString(m.Text)
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

// HasSchedule reports whether text contains at least one schedule marker.
func HasSchedule(text string) bool { return hasKind(text, KindSchedule) }

// HasTodo reports whether text contains at least one to-do marker.
func HasTodo(text string) bool { return hasKind(text, KindTodo) }

func hasKind(text string, k Kind) bool {
	for _, m := range Parse(text) {
		if m.Kind == k {
			return true
		}
	}
	return false
}

// parseMarker parses one candidate starting at '['. On success the position
// advances past the closing bracket; on failure it is left at the bracket.
func (p *parser) parseMarker() (Marker, bool) {
	start := p.pos
	p.pos++ // consume '['

	kind, ok := p.parseKeyword()
	if !ok {
		p.pos = start
		return Marker{}, false
	}
	if !p.consumeSeparator() {
		p.pos = start
		return Marker{}, false
	}

	body, end, ok := p.parseBody()
	if !ok {
		p.pos = start
		return Marker{}, false
	}
	p.pos = end

	m := Marker{Kind: kind, Start: start, End: end}
	if kind == KindTodo {
		m.Text, m.Deadline, m.Priority = splitTodoFields(body)
	} else {
		m.Text = strings.TrimSpace(body)
	}
	if m.Text == "" {
		p.pos = start
		return Marker{}, false
	}
	return m, true
}

// parseKeyword matches SCHEDULE or TODO case-insensitively.
func (p *parser) parseKeyword() (Kind, bool) {
	rest := p.input[p.pos:]
	for _, cand := range []struct {
		word string
		kind Kind
	}{
		{"SCHEDULE", KindSchedule},
		{"TODO", KindTodo},
	} {
		if len(rest) >= len(cand.word) && strings.EqualFold(rest[:len(cand.word)], cand.word) {
			p.pos += len(cand.word)
			return cand.kind, true
		}
	}
	return 0, false
}

// consumeSeparator accepts optional spaces then ':' or the full-width '：'.
func (p *parser) consumeSeparator() bool {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
	if p.pos < len(p.input) && p.input[p.pos] == ':' {
		p.pos++
		return true
	}
	if strings.HasPrefix(p.input[p.pos:], "：") {
		p.pos += len("：")
		return true
	}
	return false
}

// parseBody scans to the matching close bracket, tracking nesting depth so
// bracketed text inside the payload survives. Returns the body and the
// offset just past the close bracket.
func (p *parser) parseBody() (string, int, bool) {
	depth := 0
	for i := p.pos; i < len(p.input); i++ {
		switch p.input[i] {
		case '[':
			depth++
		case ']':
			if depth == 0 {
				return p.input[p.pos:i], i + 1, true
			}
			depth--
		}
	}
	return "", 0, false
}

// splitTodoFields divides a TODO body on '|' into title and named fields.
// Unknown fields are ignored; the full-width '｜' works as a separator too.
func splitTodoFields(body string) (title, deadline, priority string) {
	body = strings.ReplaceAll(body, "｜", "|")
	parts := strings.Split(body, "|")
	title = strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			key, val, ok = strings.Cut(part, "：")
		}
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "deadline", "截止", "截止时间":
			deadline = val
		case "priority", "优先级":
			priority = val
		}
	}
	return title, deadline, priority
}
