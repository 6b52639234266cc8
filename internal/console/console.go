// Package console owns standard input for the running session. It answers
// device selection prompts and accepts a few interactive commands while the
// session is supervised.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/session"
	"golang.org/x/term"
)

// DefaultPrompt is shown while no question is pending.
const DefaultPrompt = "blelink> "

// ErrQuit is returned by Run when the user asked to stop the program.
var ErrQuit = errors.New("user stopped program")

// LineReader is the subset of *readline.Instance the console needs.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Stdout() io.Writer
	Stderr() io.Writer
	Close() error
}

// Controller is the session the console commands act on.
type Controller interface {
	Send(data []byte) error
	Session() session.Session
}

type lineResult struct {
	line string
	err  error
}

// Console multiplexes one line source between selection prompts and
// interactive commands. Lines typed while a prompt is pending answer the
// prompt; all other lines are commands.
type Console struct {
	rl          LineReader
	controller  Controller
	interactive bool
	logger      *logrus.Logger

	mu      sync.Mutex
	pending chan lineResult
	closed  bool

	errColor *color.Color
	okColor  *color.Color
}

// New creates a console over rl. controller may be nil, in which case
// command lines are ignored and only prompts are answered. interactive
// selects whether Ctrl-C and end of input stop the program.
func New(rl LineReader, controller Controller, interactive bool, logger *logrus.Logger) *Console {
	if logger == nil {
		logger = logrus.New()
	}
	return &Console{
		rl:          rl,
		controller:  controller,
		interactive: interactive,
		logger:      logger,
		errColor:    color.New(color.FgRed),
		okColor:     color.New(color.FgGreen),
	}
}

// NewStdio creates a console on the process's standard input. A terminal gets
// line editing through readline; anything else is read line by line.
func NewStdio(controller Controller, logger *logrus.Logger) (*Console, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return New(NewLineReader(os.Stdin, os.Stdout, os.Stderr), controller, false, logger), nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          DefaultPrompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return New(rl, controller, true, logger), nil
}

// SetController attaches the session that commands act on.
func (c *Console) SetController(controller Controller) {
	c.mu.Lock()
	c.controller = controller
	c.mu.Unlock()
}

// Stdout returns a writer that does not garble the prompt line.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns the diagnostics writer. Logs belong here, not on Stdout.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Prompt asks question and waits for the next line. It needs Run to be
// reading input. Only one prompt may be pending at a time.
func (c *Console) Prompt(ctx context.Context, question string) (string, error) {
	ch := make(chan lineResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", io.EOF
	}
	if c.pending != nil {
		c.mu.Unlock()
		return "", errors.New("another prompt is pending")
	}
	c.pending = ch
	c.rl.SetPrompt(question)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending == ch {
			c.pending = nil
		}
		c.rl.SetPrompt(DefaultPrompt)
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

// Run reads input until ctx is done, the user quits, or input ends.
// It returns ErrQuit when the user asked to stop and nil otherwise.
func (c *Console) Run(ctx context.Context) error {
	defer c.rl.Close()

	lines := make(chan lineResult)
	groutine.Go(ctx, "console-reader", func(ctx context.Context) {
		for {
			line, err := c.rl.Readline()
			select {
			case lines <- lineResult{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			c.closeInput(ctx.Err())
			return nil

		case res := <-lines:
			if res.err != nil {
				return c.handleReadError(res.err)
			}

			if c.answerPending(res) {
				continue
			}
			if err := c.execute(res.line); err != nil {
				return err
			}
		}
	}
}

// handleReadError fails a pending prompt once input has ended. Ctrl-C, and
// end of input on a terminal, stop the program.
func (c *Console) handleReadError(err error) error {
	if errors.Is(err, readline.ErrInterrupt) {
		c.closeInput(ErrQuit)
		return ErrQuit
	}

	c.closeInput(io.EOF)
	if c.interactive {
		return ErrQuit
	}
	if !errors.Is(err, io.EOF) {
		c.logger.WithError(err).Warn("Console input failed")
	}
	return nil
}

// closeInput fails the pending prompt and every later one.
func (c *Console) closeInput(err error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.answerPending(lineResult{err: err})
}

func (c *Console) answerPending(res lineResult) bool {
	c.mu.Lock()
	ch := c.pending
	c.pending = nil
	c.mu.Unlock()

	if ch == nil {
		return false
	}
	ch <- res
	return true
}

// execute runs one command line. It returns ErrQuit for quit commands.
func (c *Console) execute(line string) error {
	c.mu.Lock()
	controller := c.controller
	c.mu.Unlock()

	input := strings.TrimSpace(line)
	if input == "" || controller == nil {
		return nil
	}

	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	out := c.rl.Stdout()

	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printHelp(out)

	case "status", "s":
		printStatus(out, controller.Session())

	case "send", "w":
		if rest == "" {
			c.errColor.Fprintln(out, "usage: send <text>")
			return nil
		}
		if err := controller.Send([]byte(rest)); err != nil {
			c.errColor.Fprintf(out, "send failed: %v\n", err)
			return nil
		}
		c.okColor.Fprintf(out, "sent %d bytes\n", len(rest))

	case "quit", "exit", "q":
		return ErrQuit

	default:
		c.errColor.Fprintf(out, "unknown command %q, type help\n", cmd)
	}
	return nil
}

func (c *Console) printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  status, s        show the session state")
	fmt.Fprintln(out, "  send, w <text>   write text to the device")
	fmt.Fprintln(out, "  quit, q          stop the program")
}

func printStatus(out io.Writer, snap session.Session) {
	target := "-"
	if snap.Target.Address != "" {
		target = snap.Target.String()
	}
	fmt.Fprintf(out, "state:     %s\n", snap.State)
	fmt.Fprintf(out, "device:    %s\n", target)
	fmt.Fprintf(out, "connected: %t\n", snap.Connected)
	if !snap.LastActivity.IsZero() {
		fmt.Fprintf(out, "last data: %s\n", snap.LastActivity.Format("15:04:05.000000"))
	}
	if snap.Attempts > 0 {
		fmt.Fprintf(out, "attempts:  %d\n", snap.Attempts)
	}
}
