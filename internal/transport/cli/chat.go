package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/internal/service/ui"
	"github.com/sandevgo/recall/pkg/log"
)

const (
	cmdExit  = "exit"
	cmdQuit  = "quit"
	cmdNew   = "/new"
	cmdTrace = "/trace"
)

type ChatConfig struct {
	UserID         string
	ConversationID string
	ShowTrace      bool
	// HistoryFile keeps input history between sessions; empty disables it.
	HistoryFile string
}

// Chat is a line based chat loop on top of readline.
type Chat struct {
	handler core.TurnHandler
	rl      *readline.Instance
	cfg     ChatConfig

	closeOnce sync.Once
	closeErr  error
}

// NewChat reads from in and writes to out. With a nil in the terminal is used,
// otherwise input is read as plain lines without line editing.
func NewChat(handler core.TurnHandler, in io.ReadCloser, out io.Writer, cfg ChatConfig) (*Chat, error) {
	rlCfg := &readline.Config{
		Prompt:          ui.PromptStyle.Render("you>") + " ",
		HistoryFile:     cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       cmdExit,
		Stdin:           in,
		Stdout:          out,
	}
	if in != nil {
		rlCfg.FuncIsTerminal = func() bool { return false }
	}

	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init readline: %w", err)
	}

	return &Chat{
		handler: handler,
		rl:      rl,
		cfg:     cfg,
	}, nil
}

// ConversationID is the conversation the next message goes to. Empty until the
// first reply when none was configured.
func (c *Chat) ConversationID() string {
	return c.cfg.ConversationID
}

// Start reads messages until EOF, "exit", ctrl+c on an empty line or ctx ends.
func (c *Chat) Start(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	logger.Info().Str("user_id", c.cfg.UserID).Msg("chat started, type 'exit' to quit")

	// unblocks a pending Readline
	stop := context.AfterFunc(ctx, func() { _ = c.Shutdown(context.Background()) })
	defer stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := c.rl.Readline()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					return nil
				}
				continue
			} else if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case cmdExit, cmdQuit:
			return nil
		case cmdNew:
			c.cfg.ConversationID = ""
			c.println(ui.MetaStyle.Render("started a new conversation"))
			continue
		case cmdTrace:
			c.cfg.ShowTrace = !c.cfg.ShowTrace
			c.println(ui.MetaStyle.Render(fmt.Sprintf("trace output: %t", c.cfg.ShowTrace)))
			continue
		}

		c.send(ctx, line)
	}
}

func (c *Chat) println(s string) {
	fmt.Fprintln(c.rl.Stdout(), s)
}

func (c *Chat) send(ctx context.Context, message string) {
	res, err := c.handler.HandleTurn(ctx, c.cfg.UserID, c.cfg.ConversationID, message)
	if res != nil && res.ConversationID != "" {
		c.cfg.ConversationID = res.ConversationID
	}
	if err != nil {
		log.FromCtx(ctx).Error().Err(err).Msg("turn failed")
		c.println(ui.ErrorStyle.Render("error: " + err.Error()))
		if res != nil && c.cfg.ShowTrace {
			c.printTrace(res.Trace)
		}
		return
	}

	c.println(ui.AssistantStyle.Render(res.ResponseText))
	c.println(ui.MetaStyle.Render(summarize(res.Trace)))
	if c.cfg.ShowTrace {
		c.printTrace(res.Trace)
	}
}

func (c *Chat) printTrace(trace *core.ObservabilityTrace) {
	if trace == nil {
		return
	}
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		c.println(ui.ErrorStyle.Render("failed to render trace: " + err.Error()))
		return
	}
	c.println(string(data))
}

func summarize(trace *core.ObservabilityTrace) string {
	if trace == nil {
		return ""
	}
	s := fmt.Sprintf("[%s] tokens=%d cost=$%.6f latency=%.1fms memories=%d",
		trace.RequestID,
		trace.TokenUsage.Total,
		trace.TokenUsage.Cost,
		trace.RequestTrace.TotalLatencyMs,
		len(trace.Semantic.RelevantMemories),
	)
	if len(trace.Degraded) > 0 {
		s += " degraded=" + strings.Join(trace.Degraded, ",")
	}
	if trace.PartialSuccess {
		s += " partial"
	}
	return s
}

// Shutdown closes readline and restores the terminal. Safe to call more than once.
func (c *Chat) Shutdown(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rl.Close()
	})
	return c.closeErr
}
