package agentloop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const maxProjectDocBytes = 32 * 1024

// projectDocFiles are loaded from the workspace root into the system prompt.
var projectDocFiles = []string{"AGENTS.md"}

// BrainPrompt describes the tool-call protocol to the orchestration model.
func BrainPrompt() string {
	var sb strings.Builder
	sb.WriteString(`You are a software engineer working inside a project workspace. You cannot see files unless you read them, and you change files only through tools.

Every reply must take exactly one of two shapes.

1. Call one or more tools. Each call is wrapped in TOOL_CALL_START and TOOL_CALL_END, names the tool on a line "TOOL_NAME: <name>", and passes each argument between its own start and end markers:

TOOL_CALL_START
TOOL_NAME: file_writer
FILENAME_START
src/app.py
FILENAME_END
DIFF_START
+ def hello():
+     print("hello")
DIFF_END
TOOL_CALL_END

Calls run in the order written. Each result comes back to you as the next user message. Do not nest tags.

2. Answer the user. Wrap the whole answer in RESPONSE_START and RESPONSE_END:

RESPONSE_START
Your answer to the user.
RESPONSE_END

A reply that contains a tool call is never shown to the user. Do not mix the two shapes.

Available tools:
`)
	for _, def := range toolTable {
		fields := make([]string, len(def.Fields))
		for i, f := range def.Fields {
			fields[i] = markerForField(f).Start()
		}
		fmt.Fprintf(&sb, "- %s: %s Arguments: %s.\n", def.Name, def.Description, strings.Join(fields, ", "))
	}
	return sb.String()
}

// FormattingHint is added to a retried request after a reply matched
// neither shape. It is never stored in the transcript.
func FormattingHint() string {
	return "Your previous reply could not be used: it contained neither a tool call " +
		"(TOOL_CALL_START ... TOOL_CALL_END) nor an answer (RESPONSE_START ... RESPONSE_END). " +
		"Reply again using exactly one of those shapes."
}

// RewriterPrompt instructs the file-rewriting model.
func RewriterPrompt() string {
	return `You rewrite source files. You receive the current contents of a file and a diff describing the change to make. The diff may be informal: lines starting with + are additions, lines starting with - are removals, and prose describes intent.

Return the complete new contents of the file between <|UPDATED_FILE_START|> and <|UPDATED_FILE_END|>. Include every line of the file, not only the changed parts. Do not add commentary inside the markers. If the current file is empty, write the new file from the diff alone.`
}

// SummarizerPrompt instructs the compaction model.
func SummarizerPrompt(keepRecent int) string {
	return fmt.Sprintf(`You summarize a conversation between a user and an assistant that is itself a language model. The summary replaces older messages because the assistant's context is limited.

The conversation is given as JSON and includes the assistant's system prompt so the summary keeps the assistant on task. It may already contain an earlier summary; fold it in.

Older completed work should take little space. Recent and in-progress work should be described in detail: the main objective, the tasks completed, the tasks in progress, and any file names, decisions and open questions.

The last %d messages will be kept verbatim after your summary. Do not repeat them. Return only the summary.`, keepRecent)
}

// BuildEnvironmentContext generates the environment block of the system
// prompt.
func BuildEnvironmentContext(ws *Workspace, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Workspace: %s\n", ws.Root())
	fmt.Fprintf(&sb, "Platform: %s\n", ws.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", ws.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads project instruction files from the workspace
// root, capped at 32KB in total.
func DiscoverProjectDocs(ws *Workspace) string {
	var docs []string
	totalBytes := 0

	for _, name := range projectDocFiles {
		content, err := afero.ReadFile(ws.Fs(), filepath.Join(ws.Root(), name))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				docs = append(docs, fmt.Sprintf("# %s\n\n[unreadable: %v]", name, err))
			}
			continue
		}

		remaining := maxProjectDocBytes - totalBytes
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, fmt.Sprintf("# %s\n\n%s", name, text))
		totalBytes += len(text)
	}

	return strings.Join(docs, "\n\n---\n\n")
}

// BuildSystemPrompt assembles the orchestration system prompt.
func BuildSystemPrompt(ws *Workspace, model, userInstructions string) string {
	parts := []string{BrainPrompt(), BuildEnvironmentContext(ws, model)}
	if docs := DiscoverProjectDocs(ws); docs != "" {
		parts = append(parts, "# Project Instructions\n\n"+docs)
	}
	if userInstructions != "" {
		parts = append(parts, "# User Instructions\n\n"+userInstructions)
	}
	return strings.Join(parts, "\n\n")
}
