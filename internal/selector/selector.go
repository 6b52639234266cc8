// Package selector resolves a list of discovered devices to the single device
// the session should connect to.
package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
)

// Selection errors
var (
	ErrSelection         = errors.New("no device selected")
	ErrNoCandidates      = fmt.Errorf("%w: no candidates", ErrSelection)
	ErrPromptUnavailable = fmt.Errorf("%w: prompt unavailable", ErrSelection)
)

// invalidChoiceMessage is printed before every re-prompt.
const invalidChoiceMessage = "Please make valid selection."

// Prompter asks a human a question and returns the raw answer.
// Implementations block until a line is available or ctx is done.
type Prompter interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, question string) (string, error)

func (f PrompterFunc) Prompt(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// Selector picks a device by name or by asking the user.
type Selector struct {
	target   string
	prompter Prompter
	out      io.Writer
	logger   *logrus.Logger
}

// New creates a selector. target may be empty to always ask; prompter may be
// nil when no interactive choice is possible.
func New(target string, prompter Prompter, out io.Writer, logger *logrus.Logger) *Selector {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Selector{
		target:   target,
		prompter: prompter,
		out:      out,
		logger:   logger,
	}
}

// Select returns exactly one of candidates. An exact match on the target name
// wins without prompting; otherwise the prompter is asked for an index until a
// valid one is given.
func (s *Selector) Select(ctx context.Context, candidates []device.Candidate) (device.Candidate, error) {
	if len(candidates) == 0 {
		return device.Candidate{}, ErrNoCandidates
	}

	if s.target != "" {
		for _, c := range candidates {
			if c.Name == s.target {
				fmt.Fprintf(s.out, "Found %s\n", s.target)
				s.logger.WithFields(logrus.Fields{
					"name":    c.Name,
					"address": c.Address,
				}).Info("Target device found")
				return c, nil
			}
		}
	}

	if s.prompter == nil {
		return device.Candidate{}, ErrPromptUnavailable
	}

	fmt.Fprintln(s.out, "Please select device: ")
	for i, c := range candidates {
		fmt.Fprintf(s.out, "%d: %s\n", i, c)
	}

	for {
		answer, err := s.prompter.Prompt(ctx, "Select device: ")
		if err != nil {
			return device.Candidate{}, fmt.Errorf("%w: %v", ErrPromptUnavailable, err)
		}

		idx, ok := parseChoice(answer, len(candidates))
		if !ok {
			s.logger.WithField("answer", answer).Debug("Rejected device selection")
			fmt.Fprintln(s.out, invalidChoiceMessage)
			continue
		}
		return candidates[idx], nil
	}
}

// parseChoice validates answer as an index in [0, count).
func parseChoice(answer string, count int) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || idx < 0 || idx >= count {
		return 0, false
	}
	return idx, true
}
