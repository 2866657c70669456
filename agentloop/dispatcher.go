package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/martinemde/engineer/logging"
)

// DefaultMaxRetries is the size of the per-turn retry budget.
const DefaultMaxRetries = 3

// Dispatcher states.
const (
	StateAwaitingModel = "awaiting_model"
	StateParsed        = "parsed"
	StateExecuting     = "executing"
	StateTerminal      = "terminal"
	StateMalformed     = "malformed"
	StateDone          = "done"
	StateFailed        = "failed"
)

// Dispatcher events.
const (
	eventReply   = "reply"
	eventExecute = "execute"
	eventRespond = "respond"
	eventReject  = "reject"
	eventRetry   = "retry"
	eventFinish  = "finish"
	eventGiveUp  = "give_up"
)

// RetryBudget counts the failed steps a turn may still absorb. It is a
// value: Dispatch takes one and returns the updated copy.
type RetryBudget struct {
	Count int
	Max   int
}

// NewRetryBudget returns a full budget of size max.
func NewRetryBudget(max int) RetryBudget {
	if max <= 0 {
		max = DefaultMaxRetries
	}
	return RetryBudget{Count: max, Max: max}
}

// Reset refills the budget.
func (b RetryBudget) Reset() RetryBudget {
	b.Count = b.Max
	return b
}

// Decrement spends one retry. The count never goes below zero.
func (b RetryBudget) Decrement() RetryBudget {
	if b.Count > 0 {
		b.Count--
	}
	return b
}

// Exhausted reports whether no retries remain.
func (b RetryBudget) Exhausted() bool {
	return b.Count <= 0
}

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	Call     ToolCall
	Output   string
	Err      error
	Duration time.Duration
}

// Outcome describes what one Dispatch did with a reply.
type Outcome struct {
	Kind     ReplyKind
	State    string
	Response string
	Results  []ToolResult
	Problems []*ParseError
	Err      error
}

// Done reports whether the turn ended with a response.
func (o Outcome) Done() bool { return o.State == StateDone }

// Failed reports whether the turn can make no further progress.
func (o Outcome) Failed() bool { return o.State == StateFailed }

// Dispatcher routes parsed replies to tool handlers and records every
// result in the transcript.
type Dispatcher struct {
	workspace  *Workspace
	mutator    *FileMutator
	searcher   Searcher
	charLimits map[ToolKind]int
	lineLimits map[ToolKind]int
	emitter    *EventEmitter
	logger     logging.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOutputLimits overrides the per-tool truncation limits.
func WithOutputLimits(chars, lines map[ToolKind]int) DispatcherOption {
	return func(d *Dispatcher) {
		if chars != nil {
			d.charLimits = chars
		}
		if lines != nil {
			d.lineLimits = lines
		}
	}
}

// WithDispatcherEmitter sets the event emitter.
func WithDispatcherEmitter(e *EventEmitter) DispatcherOption {
	return func(d *Dispatcher) { d.emitter = e }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher with one handler per tool kind.
func NewDispatcher(ws *Workspace, mutator *FileMutator, searcher Searcher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		workspace:  ws,
		mutator:    mutator,
		searcher:   searcher,
		charLimits: DefaultToolCharLimits,
		lineLimits: DefaultToolLineLimits,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// turnMachine tracks one reply through the dispatcher states.
func (d *Dispatcher) turnMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateAwaitingModel,
		fsm.Events{
			{Name: eventReply, Src: []string{StateAwaitingModel}, Dst: StateParsed},
			{Name: eventExecute, Src: []string{StateParsed}, Dst: StateExecuting},
			{Name: eventRespond, Src: []string{StateParsed}, Dst: StateTerminal},
			{Name: eventReject, Src: []string{StateParsed}, Dst: StateMalformed},
			{Name: eventRetry, Src: []string{StateParsed, StateExecuting, StateMalformed}, Dst: StateAwaitingModel},
			{Name: eventFinish, Src: []string{StateTerminal}, Dst: StateDone},
			{Name: eventGiveUp, Src: []string{StateParsed, StateExecuting, StateMalformed}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.logger.Debug("dispatcher state", "event", e.Event, "from", e.Src, "to", e.Dst)
				d.emitter.Emit(EventStateChange, map[string]any{
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				})
			},
		},
	)
}

// Dispatch handles one model reply. Tool calls run in order with one result
// message appended per call; a response ends the turn; a malformed reply
// gets an error message; an unrecognized reply appends nothing. The
// returned budget reflects the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, t *Transcript, reply string, budget RetryBudget) (Outcome, RetryBudget) {
	machine := d.turnMachine()
	parsed := ParseReply(reply)
	out := Outcome{Kind: parsed.Kind(), Problems: parsed.Problems}

	d.fire(ctx, machine, eventReply)

	switch out.Kind {
	case ReplyTerminal:
		d.fire(ctx, machine, eventRespond)
		t.Append(AssistantText(reply))
		budget = budget.Reset()
		out.Response = parsed.Response
		d.emitter.Emit(EventResponse, map[string]any{"text": parsed.Response})
		d.fire(ctx, machine, eventFinish)

	case ReplyToolCalls:
		d.fire(ctx, machine, eventExecute)
		t.Append(AssistantText(reply))
		for _, call := range parsed.Calls {
			if err := ctx.Err(); err != nil {
				out.Err = err
				break
			}
			res := d.execute(ctx, call)
			out.Results = append(out.Results, res)
			if res.Err != nil {
				t.Append(UserText(toolError(res.Err)))
				budget = budget.Decrement()
			} else {
				t.Append(UserText(res.Output))
				budget = budget.Reset()
			}
		}

	case ReplyMalformed:
		d.fire(ctx, machine, eventReject)
		t.Append(AssistantText(reply))
		t.Append(UserText(malformedMessage(parsed)))
		budget = budget.Decrement()
		d.logger.Warn("malformed reply", "problems", len(parsed.Problems))
		d.emitter.Emit(EventMalformedReply, map[string]any{"problems": parsed.ProblemSummary()})

	default:
		budget = budget.Decrement()
		d.logger.Warn("unrecognized reply", "remaining", budget.Count)
		d.emitter.Emit(EventUnrecognizedReply, map[string]any{"remaining": budget.Count})
	}

	if machine.Current() != StateDone {
		if out.Err != nil || budget.Exhausted() {
			d.fire(ctx, machine, eventGiveUp)
		} else {
			d.fire(ctx, machine, eventRetry)
		}
	}
	d.emitter.Emit(EventBudget, map[string]any{"count": budget.Count, "max": budget.Max})

	out.State = machine.Current()
	return out, budget
}

// fire moves the machine along. Transitions ignore cancellation so the
// recorded state always matches what was appended to the transcript.
func (d *Dispatcher) fire(ctx context.Context, machine *fsm.FSM, event string) {
	if err := machine.Event(context.WithoutCancel(ctx), event); err != nil {
		d.logger.Error("dispatcher transition rejected", "event", event, "state", machine.Current(), "err", err)
	}
}

// execute runs one well-formed call and renders its result.
func (d *Dispatcher) execute(ctx context.Context, call ToolCall) ToolResult {
	d.emitter.Emit(EventToolCallStart, map[string]any{"tool": call.Name, "call": call.String()})
	start := time.Now()

	var (
		output string
		err    error
	)
	switch call.Kind {
	case ToolFileReader:
		output, err = d.readFile(call.Arg(FieldFilename))
	case ToolFileWriter:
		output, err = d.writeFile(ctx, call.Arg(FieldFilename), call.Arg(FieldDiff))
	case ToolGoogleSearch:
		output, err = d.search(ctx, call.Arg(FieldQuery))
	case ToolUnknown:
		err = fmt.Errorf("unknown tool %q", call.Name)
	default:
		err = fmt.Errorf("no handler for tool %q", call.Name)
	}

	res := ToolResult{Call: call, Output: output, Err: err, Duration: time.Since(start)}
	data := map[string]any{"tool": call.Name, "duration": res.Duration}
	if err != nil {
		d.logger.Warn("tool failed", "tool", call.String(), "duration", res.Duration, "err", err)
		data["error"] = err.Error()
	} else {
		d.logger.Info("tool executed", "tool", call.String(), "duration", res.Duration)
		data["output"] = output
	}
	d.emitter.Emit(EventToolCallEnd, data)
	return res
}

func (d *Dispatcher) readFile(filename string) (string, error) {
	content, exists, err := d.workspace.ReadFile(filename)
	if err != nil {
		return "", err
	}
	if !exists {
		return "File does not exist. If you want to add content just call file_writer. It will handle creation.", nil
	}
	content = TruncateToolOutput(content, ToolFileReader, d.charLimits, d.lineLimits)
	return "File Contents:\n\n```\n" + content + "\n```", nil
}

func (d *Dispatcher) writeFile(ctx context.Context, filename, diff string) (string, error) {
	out, err := d.mutator.Mutate(ctx, filename, diff)
	if err != nil {
		return "", err
	}
	return "TOOL_OUTPUT:\n\n" + TruncateToolOutput(out, ToolFileWriter, d.charLimits, d.lineLimits), nil
}

func (d *Dispatcher) search(ctx context.Context, query string) (string, error) {
	results, err := d.searcher.Search(ctx, query)
	if err != nil {
		return "", err
	}
	return TruncateToolOutput(formatSearchResults(query, results), ToolGoogleSearch, d.charLimits, d.lineLimits), nil
}

func toolError(err error) string {
	return "TOOL_OUTPUT:\n\nError: " + err.Error()
}

func malformedMessage(r Reply) string {
	return "Your reply could not be executed and no tool was run:\n" + r.ProblemSummary() +
		"\nFix the problems above and send the complete reply again."
}
