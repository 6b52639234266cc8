package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// lineReader reads plain lines from a non-terminal input such as a pipe.
type lineReader struct {
	scanner *bufio.Scanner

	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

// NewLineReader returns a LineReader over in that echoes prompts to out.
// Diagnostics go to errOut so they never mix with output records.
func NewLineReader(in io.Reader, out, errOut io.Writer) LineReader {
	return &lineReader{scanner: bufio.NewScanner(in), out: out, errOut: errOut}
}

func (r *lineReader) Readline() (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(r.scanner.Text(), "\r"), nil
}

// SetPrompt prints prompt, unless it is the idle prompt.
func (r *lineReader) SetPrompt(prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prompt == DefaultPrompt {
		return
	}
	fmt.Fprint(r.out, prompt)
}

func (r *lineReader) Stdout() io.Writer {
	return r.out
}

func (r *lineReader) Stderr() io.Writer {
	return r.errOut
}

// Close leaves the underlying reader open; standard input outlives the console.
func (r *lineReader) Close() error {
	return nil
}
