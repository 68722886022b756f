package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/callbacks"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/checkpoint"
	"github.com/effective-security/toolchat/config"
	"github.com/effective-security/toolchat/discovery"
	"github.com/effective-security/toolchat/orchestrator"
	"github.com/effective-security/toolchat/pkg/llmfactory"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/llmutils"
	"github.com/effective-security/toolchat/tools/tavily"
	"github.com/effective-security/xlog"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "toolchat")

// newModel returns the model of the configuration, tests override it.
var newModel = func(cfg *config.Config) (llms.Model, error) {
	f := llmfactory.New(&cfg.LLM)
	if cfg.Model != "" {
		return f.ModelByName(cfg.Model)
	}
	return f.DefaultModel()
}

type chat struct {
	session    *orchestrator.Session
	store      checkpoint.Store
	scratchpad *callbacks.Scratchpad
}

func runChat(ctx context.Context, opts *chatOptions, in io.Reader, out, errOut io.Writer) error {
	if opts.thread == "" {
		switch {
		case opts.reset:
			return errors.New("--reset requires --thread")
		case opts.history:
			return errors.New("--history requires --thread")
		}
	}

	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return err
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if err = cfg.SetupLogging(errOut); err != nil {
		return err
	}

	c, err := newChat(ctx, cfg, opts.verbose, errOut)
	if err != nil {
		return err
	}
	defer c.Close()

	threadID := opts.thread
	if opts.reset {
		if err = c.session.Reset(ctx, threadID); err != nil {
			return err
		}
	}
	if opts.history {
		return c.printHistory(ctx, out, threadID)
	}
	if threadID == "" {
		threadID = chatmodel.NewThreadID()
	}
	fmt.Fprintf(errOut, "thread: %s\n", threadID)

	return c.loop(ctx, threadID, in, out, errOut)
}

func newChat(ctx context.Context, cfg *config.Config, verbose bool, errOut io.Writer) (*chat, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create model")
	}

	store, err := checkpoint.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, err
	}

	registry, err := discovery.Discover(ctx, cfg.Endpoints(), cfg.DiscoveryOptions()...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	for _, f := range registry.Failures() {
		fmt.Fprintf(errOut, "warning: %s\n", f.Error())
	}

	c := &chat{store: store}
	cb := callbacks.NewFanout(callbacks.NewPackageLogger(logger))
	if verbose {
		c.scratchpad = callbacks.NewScratchpad(callbacks.ModeVerbose)
		cb.Add(callbacks.NewPrinter(errOut, callbacks.ModeVerbose))
		cb.Add(c.scratchpad)
	}

	opts := append(cfg.SessionOptions(),
		orchestrator.WithTools(tavily.Optional()...),
		orchestrator.WithRegistry(registry),
		orchestrator.WithStore(store),
		orchestrator.WithCallback(cb),
	)
	c.session, err = orchestrator.NewSession(model, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the tool hosts and the store.
func (c *chat) Close() {
	if err := c.session.Close(); err != nil {
		logger.KV(xlog.WARNING, "status", "close_session", "err", err.Error())
	}
	if err := c.store.Close(); err != nil {
		logger.KV(xlog.WARNING, "status", "close_store", "err", err.Error())
	}
}

// loop runs one turn per input line until EOF, "exit" or ctx is done.
// A failed turn is reported and the chat continues.
func (c *chat) loop(ctx context.Context, threadID string, in io.Reader, out, errOut io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := c.session.Run(ctx, threadID, line)
		if c.scratchpad != nil {
			if _, trace := c.scratchpad.EndRun(threadID); len(trace) > 0 {
				_, _ = errOut.Write(trace)
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(errOut, "error: %s\n", err.Error())
			continue
		}
		fmt.Fprint(out, llmutils.EnsureEndsWithNewline(res.Answer))
	}
}

func (c *chat) printHistory(ctx context.Context, out io.Writer, threadID string) error {
	transcript, err := c.session.History(ctx, threadID)
	if err != nil {
		return err
	}
	conv := transcript.Conversation()
	if len(conv) == 0 {
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err = enc.Encode(conv); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(enc.Close())
}
