package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/engineer/logging"
)

var (
	// ErrNoProgress is returned when the retry budget of a turn runs out.
	ErrNoProgress = errors.New("unable to make progress: retry budget exhausted")
	// ErrRoundLimit is returned when a turn exceeds its model call limit.
	ErrRoundLimit = errors.New("model call limit reached for this turn")
	// ErrSessionClosed is returned by Submit after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionProcessing SessionState = "processing"
	SessionClosed     SessionState = "closed"
)

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	MaxRetries          int              `json:"max_retries"`
	MaxRoundsPerInput   int              `json:"max_rounds_per_input"`
	CompactionThreshold int              `json:"compaction_threshold"`
	KeepRecent          int              `json:"keep_recent"`
	RewriteAttempts     int              `json:"rewrite_attempts"`
	SummarizeAttempts   int              `json:"summarize_attempts"`
	EnableLoopDetection bool             `json:"enable_loop_detection"`
	LoopDetectionWindow int              `json:"loop_detection_window"`
	ToolOutputLimits    map[ToolKind]int `json:"tool_output_limits,omitempty"`
	ToolLineLimits      map[ToolKind]int `json:"tool_line_limits,omitempty"`
	UserInstructions    string           `json:"user_instructions,omitempty"` // appended last to system prompt
	Logger              logging.Logger   `json:"-"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxRetries:          DefaultMaxRetries,
		MaxRoundsPerInput:   200,
		CompactionThreshold: DefaultCompactionThreshold,
		KeepRecent:          DefaultKeepRecent,
		RewriteAttempts:     DefaultRewriteAttempts,
		SummarizeAttempts:   DefaultSummarizeAttempts,
		EnableLoopDetection: true,
		LoopDetectionWindow: DefaultLoopWindow,
	}
}

// Session drives the conversation: it owns the transcript and runs the
// model until each user turn ends in a response or a failure.
type Session struct {
	id         string
	profile    Profile
	llm        LLM
	transcript *Transcript
	dispatcher *Dispatcher
	compactor  *Compactor
	calls      *callHistory
	emitter    *EventEmitter
	logger     logging.Logger
	config     SessionConfig
	state      SessionState
	mu         sync.Mutex
}

// NewSession creates a session over ws. The brain, rewriter and summarizer
// roles of profile all run through llm.
func NewSession(profile Profile, ws *Workspace, llm LLM, searcher Searcher, config *SessionConfig) *Session {
	sessionID := uuid.New().String()

	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("session", sessionID)
	emitter := NewEventEmitter(sessionID, 256)

	mutator := NewFileMutator(ws, llm, profile.Rewriter,
		WithRewriteAttempts(cfg.RewriteAttempts),
		WithMutatorLogger(logger))
	compactor := NewCompactor(NewLLMSummarizer(llm, profile.Summarizer),
		WithThreshold(cfg.CompactionThreshold),
		WithKeepRecent(cfg.KeepRecent),
		WithSummarizeAttempts(cfg.SummarizeAttempts),
		WithCompactorEmitter(emitter),
		WithCompactorLogger(logger))
	dispatcher := NewDispatcher(ws, mutator, searcher,
		WithOutputLimits(cfg.ToolOutputLimits, cfg.ToolLineLimits),
		WithDispatcherEmitter(emitter),
		WithDispatcherLogger(logger))

	s := &Session{
		id:         sessionID,
		profile:    profile,
		llm:        llm,
		transcript: NewTranscript(BuildSystemPrompt(ws, profile.Brain.Model, cfg.UserInstructions)),
		dispatcher: dispatcher,
		compactor:  compactor,
		calls:      newCallHistory(cfg.LoopDetectionWindow),
		emitter:    emitter,
		logger:     logger,
		config:     cfg,
		state:      SessionIdle,
	}
	emitter.Emit(EventSessionStart, map[string]any{"workspace": ws.Root(), "model": profile.Brain.Model})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Messages()
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Close ends the session and closes the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = SessionClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]any{"state": string(SessionClosed)})
	s.emitter.Close()
}

// Submit appends msg to the transcript and runs the model until it answers.
// It returns the response text, ErrNoProgress once the retry budget is spent,
// or the model error that ended the turn. A failed model call leaves the
// transcript as it was before that call.
func (s *Session) Submit(ctx context.Context, msg Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed {
		return "", ErrSessionClosed
	}
	s.state = SessionProcessing
	defer func() {
		if s.state == SessionProcessing {
			s.state = SessionIdle
		}
	}()

	s.transcript.Append(msg)
	s.emitter.Emit(EventUserInput, map[string]any{"content": msg.Text(), "images": msg.HasImages()})
	s.calls.reset()

	return s.run(logging.ContextWithLogger(ctx, s.logger))
}

func (s *Session) run(ctx context.Context) (string, error) {
	budget := NewRetryBudget(s.config.MaxRetries)
	hint := false

	for round := 1; ; round++ {
		if s.config.MaxRoundsPerInput > 0 && round > s.config.MaxRoundsPerInput {
			s.emitter.Emit(EventError, map[string]any{"error": ErrRoundLimit.Error(), "rounds": round - 1})
			return "", ErrRoundLimit
		}
		if err := ctx.Err(); err != nil {
			s.emitter.Emit(EventError, map[string]any{"error": "context cancelled"})
			return "", err
		}

		compacted, err := s.compactor.Compact(ctx, s.transcript)
		switch {
		case err != nil:
			s.logger.Warn("compaction skipped", "err", err)
		case compacted:
			budget = budget.Reset()
		}

		messages := s.transcript.LLMMessages()
		if hint {
			messages = append(messages, UserText(FormattingHint()).toLLM())
		}

		s.emitter.Emit(EventModelCallStart, map[string]any{"round": round, "messages": len(messages)})
		start := time.Now()
		result, err := s.llm.Generate(ctx, s.profile.Brain.options(messages))
		if err != nil {
			s.logger.Error("model call failed", "round", round, "err", err)
			s.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			return "", fmt.Errorf("model call: %w", err)
		}
		s.logger.Debug("model replied", "round", round, "duration", time.Since(start),
			"output_tokens", result.Usage.OutputTokens, "calls", len(result.Responses))
		s.emitter.Emit(EventModelCallEnd, map[string]any{"text": result.Text, "usage": result.Usage})

		var outcome Outcome
		outcome, budget = s.dispatcher.Dispatch(ctx, s.transcript, result.Text, budget)
		hint = outcome.Kind == ReplyUnrecognized

		switch {
		case outcome.Err != nil:
			return "", outcome.Err
		case outcome.Done():
			return outcome.Response, nil
		case outcome.Failed():
			s.logger.Error("turn failed", "last_reply", outcome.Kind.String())
			return "", fmt.Errorf("%w (last reply was %s)", ErrNoProgress, outcome.Kind)
		}

		s.detectLoop(outcome.Results)
	}
}

// detectLoop records executed calls and steers the model away from a
// repeating pattern.
func (s *Session) detectLoop(results []ToolResult) {
	if !s.config.EnableLoopDetection || len(results) == 0 {
		return
	}
	for _, r := range results {
		s.calls.record(r.Call)
	}
	if !s.calls.looping() {
		return
	}
	warning := loopWarning(s.calls.window)
	s.transcript.Append(UserText(warning))
	s.calls.reset()
	s.logger.Warn("tool call loop detected", "window", s.calls.window)
	s.emitter.Emit(EventLoopDetection, map[string]any{"message": warning})
}
