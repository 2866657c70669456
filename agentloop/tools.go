package agentloop

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// ToolKind is the closed set of tools the model may call.
type ToolKind int

const (
	ToolUnknown ToolKind = iota
	ToolFileReader
	ToolFileWriter
	ToolGoogleSearch
)

// Argument field names carried by tool calls.
const (
	FieldFilename = "filename"
	FieldDiff     = "diff"
	FieldQuery    = "query"
)

// ToolDefinition describes a tool for the system prompt.
type ToolDefinition struct {
	Kind        ToolKind
	Name        string
	Description string
	Fields      []string
}

// toolTable lists every tool in the order it is presented to the model.
var toolTable = []ToolDefinition{
	{
		Kind:        ToolFileReader,
		Name:        "file_reader",
		Description: "Read the full contents of a file in the workspace.",
		Fields:      []string{FieldFilename},
	},
	{
		Kind:        ToolFileWriter,
		Name:        "file_writer",
		Description: "Create or change a file. Describe the change as a diff; the file is rewritten for you and created if it does not exist.",
		Fields:      []string{FieldFilename, FieldDiff},
	},
	{
		Kind:        ToolGoogleSearch,
		Name:        "google_search",
		Description: "Search the web and return the top results with titles, URLs and snippets.",
		Fields:      []string{FieldQuery},
	},
}

// Tools returns the definitions of all tools.
func Tools() []ToolDefinition {
	out := make([]ToolDefinition, len(toolTable))
	copy(out, toolTable)
	return out
}

// LookupTool maps a tool name to its kind.
func LookupTool(name string) (ToolKind, bool) {
	for _, def := range toolTable {
		if def.Name == name {
			return def.Kind, true
		}
	}
	return ToolUnknown, false
}

// Definition returns the table entry for k.
func (k ToolKind) Definition() (ToolDefinition, bool) {
	for _, def := range toolTable {
		if def.Kind == k {
			return def, true
		}
	}
	return ToolDefinition{}, false
}

func (k ToolKind) String() string {
	if def, ok := k.Definition(); ok {
		return def.Name
	}
	return "unknown"
}

// RequiredFields lists the argument fields a call of kind k must carry.
func (k ToolKind) RequiredFields() []string {
	def, _ := k.Definition()
	return def.Fields
}

// ToolCall is one parsed invocation.
type ToolCall struct {
	Kind ToolKind
	Name string
	Args map[string]string
}

// Arg returns the value of field, or "" if absent.
func (c ToolCall) Arg(field string) string {
	return c.Args[field]
}

// Signature identifies the call by tool name and arguments so repeated
// calls can be recognized.
func (c ToolCall) Signature() string {
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\x00", k, c.Args[k])
	}
	return fmt.Sprintf("%s:%x", c.Name, h.Sum(nil)[:8])
}

func (c ToolCall) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	switch c.Kind {
	case ToolFileReader, ToolFileWriter:
		fmt.Fprintf(&sb, "(%s)", c.Arg(FieldFilename))
	case ToolGoogleSearch:
		fmt.Fprintf(&sb, "(%q)", c.Arg(FieldQuery))
	}
	return sb.String()
}
