// Package agentloop runs a conversation between a user and a language model
// that edits a workspace through a small text protocol.
//
// The model never receives native tool definitions. Instead it writes
// bounded tags into its reply: TOOL_CALL_START ... TOOL_CALL_END blocks name
// a tool and carry FILENAME, DIFF or QUERY arguments, and a
// RESPONSE_START ... RESPONSE_END block answers the user. The loop parses
// each reply, runs the requested tools one at a time in the order written,
// appends each result to the transcript as a user message and calls the
// model again until it answers.
//
// # Architecture
//
//   - Transcript: ordered message history. Index 0 is the system prompt.
//   - Compactor: replaces old history with a model-written summary once the
//     transcript grows past a threshold.
//   - ParseReply: tokenizer and parser for the tag protocol. Protocol
//     violations are reported as ParseError values.
//   - Dispatcher: state machine that routes a parsed reply to the
//     file_reader, file_writer and google_search handlers and maintains the
//     per-turn RetryBudget.
//   - FileMutator: rewrites a file from a diff description with a second
//     model, replacing the file only after a complete UPDATED_FILE block
//     was received.
//   - Session: the run loop for one user turn at a time.
//   - EventEmitter: typed event stream for host application integration.
//
// # Quick Start
//
//	ws, _ := agentloop.NewOSWorkspace("/path/to/project")
//	session := agentloop.NewSession(agentloop.DefaultProfile(), ws, client, agentloop.NewBraveSearch(), nil)
//	defer session.Close()
//
//	answer, err := session.Submit(ctx, agentloop.UserText("Create a hello.py file"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(answer)
package agentloop
