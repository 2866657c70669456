package agentloop

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Marker names a bounded tag of the tool-call protocol. Each marker has a
// NAME_START and NAME_END form, optionally wrapped as <|NAME_START|>.
type Marker string

const (
	MarkerToolCall    Marker = "TOOL_CALL"
	MarkerFilename    Marker = "FILENAME"
	MarkerDiff        Marker = "DIFF"
	MarkerQuery       Marker = "QUERY"
	MarkerResponse    Marker = "RESPONSE"
	MarkerUpdatedFile Marker = "UPDATED_FILE"
)

// Start returns the opening form of m.
func (m Marker) Start() string { return string(m) + "_START" }

// End returns the closing form of m.
func (m Marker) End() string { return string(m) + "_END" }

// fieldMarkers maps argument markers to the field they carry.
var fieldMarkers = map[Marker]string{
	MarkerFilename: FieldFilename,
	MarkerDiff:     FieldDiff,
	MarkerQuery:    FieldQuery,
}

var (
	replyMarkerRe = regexp.MustCompile(`(?:<\|)?\b(?P<name>TOOL_CALL|FILENAME|DIFF|QUERY|RESPONSE)_(?P<edge>START|END)\b(?:\|>)?`)
	toolNameRe    = regexp.MustCompile(`TOOL_NAME:[ \t]*(?P<tool>[\w.-]+)`)
	updatedFileRe = regexp.MustCompile(`(?s)(?:<\|)?\bUPDATED_FILE_START\b(?:\|>)?(?P<body>.*?)(?:<\|)?\bUPDATED_FILE_END\b(?:\|>)?`)
)

// ParseErrorKind classifies protocol violations in a reply.
type ParseErrorKind string

const (
	ParseUnterminated      ParseErrorKind = "unterminated"
	ParseNested            ParseErrorKind = "nested"
	ParseUnexpectedEnd     ParseErrorKind = "unexpected_end"
	ParseMisplacedField    ParseErrorKind = "misplaced_field"
	ParseMissingToolName   ParseErrorKind = "missing_tool_name"
	ParseAmbiguousToolName ParseErrorKind = "ambiguous_tool_name"
	ParseUnknownTool       ParseErrorKind = "unknown_tool"
	ParseMissingField      ParseErrorKind = "missing_field"
	ParseDuplicateField    ParseErrorKind = "duplicate_field"
)

// ParseError describes one protocol violation. Offset is the byte offset in
// the reply where the problem was detected.
type ParseError struct {
	Kind   ParseErrorKind
	Marker Marker
	Tool   string
	Field  string
	Offset int
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ParseUnterminated:
		return fmt.Sprintf("%s at offset %d is never closed by %s", e.Marker.Start(), e.Offset, e.Marker.End())
	case ParseNested:
		return fmt.Sprintf("%s at offset %d appears inside another open tag; tags cannot be nested", e.Marker.Start(), e.Offset)
	case ParseUnexpectedEnd:
		return fmt.Sprintf("%s at offset %d has no matching %s", e.Marker.End(), e.Offset, e.Marker.Start())
	case ParseMisplacedField:
		return fmt.Sprintf("%s at offset %d must appear inside %s ... %s", e.Marker.Start(), e.Offset, MarkerToolCall.Start(), MarkerToolCall.End())
	case ParseMissingToolName:
		return fmt.Sprintf("tool call at offset %d has no TOOL_NAME line", e.Offset)
	case ParseAmbiguousToolName:
		return fmt.Sprintf("tool call at offset %d has more than one TOOL_NAME line", e.Offset)
	case ParseUnknownTool:
		return fmt.Sprintf("unknown tool %q at offset %d; available tools: %s", e.Tool, e.Offset, strings.Join(toolNames(), ", "))
	case ParseMissingField:
		return fmt.Sprintf("tool %s at offset %d is missing the required %s field (%s ... %s)", e.Tool, e.Offset, e.Field, e.Marker.Start(), e.Marker.End())
	case ParseDuplicateField:
		return fmt.Sprintf("tool %s at offset %d gives the %s field more than once", e.Tool, e.Offset, e.Field)
	default:
		return fmt.Sprintf("parse error %s at offset %d", e.Kind, e.Offset)
	}
}

func toolNames() []string {
	names := make([]string, len(toolTable))
	for i, def := range toolTable {
		names[i] = def.Name
	}
	return names
}

// ReplyKind is the classification of a model reply.
type ReplyKind int

const (
	ReplyUnrecognized ReplyKind = iota
	ReplyToolCalls
	ReplyTerminal
	ReplyMalformed
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyToolCalls:
		return "tool_calls"
	case ReplyTerminal:
		return "terminal"
	case ReplyMalformed:
		return "malformed"
	default:
		return "unrecognized"
	}
}

// Reply is the parsed form of one assistant message.
type Reply struct {
	Raw         string
	Calls       []ToolCall
	Response    string
	HasResponse bool
	Problems    []*ParseError
}

// Kind classifies the reply. Any protocol violation makes the whole reply
// malformed. Otherwise tool calls take precedence over a response.
func (r Reply) Kind() ReplyKind {
	switch {
	case len(r.Problems) > 0:
		return ReplyMalformed
	case len(r.Calls) > 0:
		return ReplyToolCalls
	case r.HasResponse:
		return ReplyTerminal
	default:
		return ReplyUnrecognized
	}
}

// ProblemSummary renders all problems one per line.
func (r Reply) ProblemSummary() string {
	lines := make([]string, len(r.Problems))
	for i, p := range r.Problems {
		lines[i] = "- " + p.Error()
	}
	return strings.Join(lines, "\n")
}

type token struct {
	marker Marker
	end    bool
	start  int // offset of the first byte of the marker text
	stop   int // offset just past the marker text
}

func tokenize(text string) []token {
	nameIdx := replyMarkerRe.SubexpIndex("name")
	edgeIdx := replyMarkerRe.SubexpIndex("edge")
	matches := replyMarkerRe.FindAllStringSubmatchIndex(text, -1)
	toks := make([]token, 0, len(matches))
	for _, m := range matches {
		toks = append(toks, token{
			marker: Marker(text[m[2*nameIdx]:m[2*nameIdx+1]]),
			end:    text[m[2*edgeIdx]:m[2*edgeIdx+1]] == "END",
			start:  m[0],
			stop:   m[1],
		})
	}
	return toks
}

type replyParser struct {
	text  string
	toks  []token
	pos   int
	reply Reply
}

// ParseReply scans an assistant reply for tool-call envelopes and a
// response envelope. Calls are returned in order of appearance. Markers
// inside a response envelope are treated as plain text, except for a
// complete tool envelope, which makes the reply malformed.
func ParseReply(text string) Reply {
	p := &replyParser{text: text, toks: tokenize(text), reply: Reply{Raw: text}}
	for p.pos < len(p.toks) {
		tok := p.next()
		switch {
		case tok.end:
			p.fail(ParseUnexpectedEnd, tok, "", "")
		case tok.marker == MarkerToolCall:
			p.parseToolCall(tok)
		case tok.marker == MarkerResponse:
			p.parseResponse(tok)
		default:
			p.fail(ParseMisplacedField, tok, "", "")
		}
	}
	return p.reply
}

func (p *replyParser) next() token {
	tok := p.toks[p.pos]
	p.pos++
	return tok
}

func (p *replyParser) fail(kind ParseErrorKind, tok token, tool, field string) {
	p.reply.Problems = append(p.reply.Problems, &ParseError{
		Kind:   kind,
		Marker: tok.marker,
		Tool:   tool,
		Field:  field,
		Offset: tok.start,
	})
}

func (p *replyParser) parseResponse(open token) {
	var call *token
	nested := false
	for p.pos < len(p.toks) {
		tok := p.next()
		switch {
		case tok.marker == MarkerResponse && tok.end:
			if !nested && !p.reply.HasResponse {
				p.reply.Response = cleanResponse(p.text[open.stop:tok.start])
				p.reply.HasResponse = true
			}
			return
		case tok.marker == MarkerToolCall && !tok.end && call == nil:
			call = &tok
		case tok.marker == MarkerToolCall && tok.end && call != nil:
			// A complete tool envelope inside a response is ambiguous.
			p.fail(ParseNested, *call, "", "")
			nested = true
			call = nil
		}
	}
	p.fail(ParseUnterminated, open, "", "")
}

func (p *replyParser) parseToolCall(open token) {
	fields := make(map[string][]string)
	var outside strings.Builder
	cursor := open.stop
	broken := false

	for {
		if p.pos >= len(p.toks) {
			p.fail(ParseUnterminated, open, "", "")
			return
		}
		tok := p.next()

		switch {
		case tok.marker == MarkerToolCall && tok.end:
			outside.WriteString(p.text[cursor:tok.start])
			if !broken {
				p.finishToolCall(open, outside.String(), fields)
			}
			return

		case tok.marker == MarkerToolCall, tok.marker == MarkerResponse:
			if tok.end {
				p.fail(ParseUnexpectedEnd, tok, "", "")
			} else {
				p.fail(ParseNested, tok, "", "")
			}
			broken = true

		case tok.end:
			p.fail(ParseUnexpectedEnd, tok, "", "")
			broken = true

		default:
			outside.WriteString(p.text[cursor:tok.start])
			value, ok := p.parseField(tok)
			if !ok {
				broken = true
				cursor = tok.stop
				continue
			}
			name := fieldMarkers[tok.marker]
			fields[name] = append(fields[name], value)
			cursor = p.toks[p.pos-1].stop
		}
	}
}

// parseField consumes the closing marker of an argument field opened by
// open. The next marker must be the matching end.
func (p *replyParser) parseField(open token) (string, bool) {
	if p.pos >= len(p.toks) {
		p.fail(ParseUnterminated, open, "", "")
		return "", false
	}
	tok := p.toks[p.pos]
	switch {
	case tok.marker == open.marker && tok.end:
		p.pos++
		return strings.TrimSpace(p.text[open.stop:tok.start]), true
	case tok.end:
		// Leave the foreign end marker for the caller to handle.
		p.fail(ParseUnterminated, open, "", "")
	default:
		p.pos++
		p.fail(ParseNested, tok, "", "")
	}
	return "", false
}

func (p *replyParser) finishToolCall(open token, outside string, fields map[string][]string) {
	nameIdx := toolNameRe.SubexpIndex("tool")
	var names []string
	for _, m := range toolNameRe.FindAllStringSubmatch(outside, -1) {
		name := m[nameIdx]
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	switch len(names) {
	case 0:
		p.fail(ParseMissingToolName, open, "", "")
		return
	case 1:
	default:
		p.fail(ParseAmbiguousToolName, open, strings.Join(names, ","), "")
		return
	}

	name := names[0]
	kind, ok := LookupTool(name)
	if !ok {
		p.fail(ParseUnknownTool, open, name, "")
		return
	}

	call := ToolCall{Kind: kind, Name: name, Args: make(map[string]string)}
	valid := true
	for _, field := range kind.RequiredFields() {
		values := fields[field]
		switch {
		case len(values) == 0:
			p.reply.Problems = append(p.reply.Problems, &ParseError{
				Kind: ParseMissingField, Marker: markerForField(field), Tool: name, Field: field, Offset: open.start,
			})
			valid = false
		case len(values) > 1:
			p.reply.Problems = append(p.reply.Problems, &ParseError{
				Kind: ParseDuplicateField, Marker: markerForField(field), Tool: name, Field: field, Offset: open.start,
			})
			valid = false
		default:
			call.Args[field] = values[0]
		}
	}
	if valid {
		p.reply.Calls = append(p.reply.Calls, call)
	}
}

func markerForField(field string) Marker {
	for m, f := range fieldMarkers {
		if f == field {
			return m
		}
	}
	return ""
}

// cleanResponse trims whitespace and a single surrounding code fence.
func cleanResponse(s string) string {
	return strings.TrimSpace(stripFence(strings.TrimSpace(s)))
}

// stripFence removes one leading line starting with ``` and one trailing
// line equal to ```, when present. The input is expected to be trimmed.
func stripFence(s string) string {
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			return ""
		}
	}
	if strings.HasSuffix(s, "```") {
		body := strings.TrimSuffix(s, "```")
		if body == "" || strings.HasSuffix(body, "\n") {
			s = strings.TrimSuffix(body, "\n")
		}
	}
	return s
}

// ExtractUpdatedFile returns the body of the longest UPDATED_FILE envelope
// in text, with surrounding whitespace and a single code fence removed. The
// model sometimes echoes the envelope from its instructions, so the longest
// match is taken as authoritative.
func ExtractUpdatedFile(text string) (string, bool) {
	bodyIdx := updatedFileRe.SubexpIndex("body")
	best := -1
	var body string
	for _, m := range updatedFileRe.FindAllStringSubmatchIndex(text, -1) {
		if n := m[1] - m[0]; n > best {
			best = n
			body = text[m[2*bodyIdx]:m[2*bodyIdx+1]]
		}
	}
	if best < 0 {
		return "", false
	}
	return stripFence(strings.TrimSpace(body)), true
}
