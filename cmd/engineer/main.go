// Command engineer is a terminal front-end for the agent loop.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/martinemde/engineer/agentloop"
	"github.com/martinemde/engineer/config"
	"github.com/martinemde/engineer/logging"
	"github.com/martinemde/engineer/unifiedllm"
	"github.com/spf13/afero"
)

var version = "dev"

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("engineer"),
		kong.Description("A conversational coding agent that edits files in a workspace."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// Run prints the version.
func (v *VersionCmd) Run() error {
	fmt.Println("engineer", version)
	return nil
}

// Run starts the interactive loop. Each message ends with a line containing
// <|END_OF_INPUT|>.
func (c *ChatCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := setup(c.Globals)
	if err != nil {
		return err
	}
	defer rt.close()

	in := bufio.NewReader(os.Stdin)
	fmt.Fprintf(os.Stderr, "Workspace %s. End each message with %s on its own line.\n", rt.workspace.Root(), agentloop.EndOfInput)
	for {
		fmt.Fprintln(os.Stderr, "User >")
		msg, err := agentloop.ReadUserMessage(in, afero.NewOsFs())
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(msg.Text()) == "" && !msg.HasImages() {
			continue
		}

		answer, err := rt.session.Submit(ctx, msg)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Printf("\nAssistant >\n%s\n\n", answer)
	}
}

// Run sends one prompt.
func (a *AskCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := setup(a.Globals)
	if err != nil {
		return err
	}
	defer rt.close()

	answer, err := rt.session.Submit(ctx, agentloop.UserText(strings.Join(a.Prompt, " ")))
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

type app struct {
	workspace *agentloop.Workspace
	session   *agentloop.Session
	client    *unifiedllm.Client
	unlock    func() error
	logger    logging.Logger
}

func (r *app) close() {
	r.session.Close()
	if err := r.client.Close(); err != nil {
		r.logger.Warn("closing model client", "err", err)
	}
	if err := r.unlock(); err != nil {
		r.logger.Warn("releasing workspace lock", "err", err)
	}
}

func setup(g Globals) (*app, error) {
	if err := godotenv.Load(g.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", g.EnvFile, err)
	}

	ws, err := agentloop.NewOSWorkspace(g.Workspace)
	if err != nil {
		return nil, err
	}

	cfgPath := g.Config
	if cfgPath == "" {
		cfgPath = filepath.Join(ws.Root(), config.DefaultFileName)
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		return nil, err
	}
	lc := cfg.Logging()
	if g.Verbose {
		lc.Level = logging.DebugLevel
	}
	logging.Init(lc)
	logger := logging.Default()

	unlock, err := agentloop.LockWorkspace(ws.Root())
	if err != nil {
		return nil, err
	}

	profile := cfg.Profile()
	client, err := newClient(profile, logger)
	if err != nil {
		_ = unlock()
		return nil, err
	}

	session := agentloop.NewSession(profile, ws, client, cfg.NewSearcher(), cfg.SessionConfig(logger))
	go reportEvents(session.Events())
	logger.Debug("session started", "id", session.ID(), "workspace", ws.Root(), "model", profile.Brain.Model)

	return &app{workspace: ws, session: session, client: client, unlock: unlock, logger: logger}, nil
}

// newClient registers one gollm adapter per provider named in profile.
func newClient(profile agentloop.Profile, logger logging.Logger) (*unifiedllm.Client, error) {
	client := unifiedllm.NewClient(
		unifiedllm.WithDefaultProvider(profile.Brain.Provider),
		unifiedllm.WithMiddleware(logCalls(logger)),
	)
	seen := map[string]bool{}
	for _, role := range []agentloop.ModelRole{profile.Brain, profile.Rewriter, profile.Summarizer} {
		if seen[role.Provider] {
			continue
		}
		seen[role.Provider] = true
		adapter, err := unifiedllm.NewGollmAdapter(role.Provider, "")
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", role.Provider, err)
		}
		client.RegisterProvider(role.Provider, adapter)
	}
	return client, nil
}

func logCalls(logger logging.Logger) unifiedllm.Middleware {
	return func(ctx context.Context, req unifiedllm.Request, next func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error)) (*unifiedllm.Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if err != nil {
			logger.Debug("model call failed", "model", req.Model, "duration", time.Since(start), "err", err)
			return nil, err
		}
		logger.Debug("model call", "model", req.Model, "duration", time.Since(start),
			"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
		return resp, nil
	}
}

// reportEvents shows tool activity on stderr while a turn runs.
func reportEvents(events <-chan agentloop.SessionEvent) {
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventToolCallStart:
			fmt.Fprintf(os.Stderr, "  -> %v\n", ev.Data["call"])
		case agentloop.EventMalformedReply:
			fmt.Fprintln(os.Stderr, "  !! malformed reply, asking the model to fix it")
		case agentloop.EventCompaction:
			fmt.Fprintf(os.Stderr, "  .. compacted %v messages into %v\n", ev.Data["messages_before"], ev.Data["messages_after"])
		case agentloop.EventLoopDetection:
			fmt.Fprintln(os.Stderr, "  !! repeated tool calls detected")
		}
	}
}
