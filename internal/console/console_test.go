package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeController struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	snap    session.Session
}

func (f *fakeController) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeController) Session() session.Session {
	return f.snap
}

// scriptedReader replays a fixed sequence of reads, then blocks until closed.
type scriptedReader struct {
	reads  chan lineResult
	out    *syncBuffer
	closed chan struct{}
	once   sync.Once
}

func newScriptedReader(results ...lineResult) *scriptedReader {
	r := &scriptedReader{
		reads:  make(chan lineResult, len(results)),
		out:    &syncBuffer{},
		closed: make(chan struct{}),
	}
	for _, res := range results {
		r.reads <- res
	}
	return r
}

func (r *scriptedReader) Readline() (string, error) {
	select {
	case res := <-r.reads:
		return res.line, res.err
	case <-r.closed:
		return "", io.EOF
	}
}

func (r *scriptedReader) SetPrompt(string)  {}
func (r *scriptedReader) Stdout() io.Writer { return r.out }
func (r *scriptedReader) Stderr() io.Writer { return io.Discard }
func (r *scriptedReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type pipeConsole struct {
	console *Console
	in      *io.PipeWriter
	out     *syncBuffer
	done    chan error
	cancel  context.CancelFunc
}

func startPipeConsole(t *testing.T, controller Controller) *pipeConsole {
	t.Helper()
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	pc := &pipeConsole{
		console: New(NewLineReader(pr, out, io.Discard), controller, false, quietLogger()),
		in:      pw,
		out:     out,
		done:    make(chan error, 1),
		cancel:  cancel,
	}
	go func() { pc.done <- pc.console.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = pw.Close()
	})
	return pc
}

func (pc *pipeConsole) typeLine(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(pc.in, line+"\n")
	require.NoError(t, err)
}

func (pc *pipeConsole) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-pc.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("console MUST stop")
		return nil
	}
}

func TestConsole_PromptIsAnsweredByNextLine(t *testing.T) {
	pc := startPipeConsole(t, nil)

	answers := make(chan string, 1)
	go func() {
		answer, err := pc.console.Prompt(context.Background(), "Select device: ")
		assert.NoError(t, err)
		answers <- answer
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(pc.out.String(), "Select device: ")
	}, time.Second, time.Millisecond)
	pc.typeLine(t, "1")

	select {
	case answer := <-answers:
		assert.Equal(t, "1", answer)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt MUST be answered")
	}
}

func TestConsole_PromptHonoursCancellation(t *testing.T) {
	pc := startPipeConsole(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pc.console.Prompt(ctx, "Select device: ")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsole_EndOfInputFailsPrompts(t *testing.T) {
	pc := startPipeConsole(t, nil)
	require.NoError(t, pc.in.Close())

	require.NoError(t, pc.wait(t), "end of piped input MUST NOT stop the program")

	_, err := pc.console.Prompt(context.Background(), "Select device: ")
	assert.ErrorIs(t, err, io.EOF)
}

func TestConsole_Commands(t *testing.T) {
	controller := &fakeController{
		snap: session.Session{
			Target:    device.Candidate{Name: "MySensorForTests", Address: "AA:BB"},
			State:     session.Connected,
			Connected: true,
		},
	}
	pc := startPipeConsole(t, controller)

	pc.typeLine(t, "send hello world")
	pc.typeLine(t, "status")
	pc.typeLine(t, "bogus")
	pc.typeLine(t, "quit")

	require.ErrorIs(t, pc.wait(t), ErrQuit)

	require.Len(t, controller.sent, 1)
	assert.Equal(t, []byte("hello world"), controller.sent[0])

	out := pc.out.String()
	assert.Contains(t, out, "sent 11 bytes")
	assert.Contains(t, out, "state:     connected")
	assert.Contains(t, out, "device:    MySensorForTests (AA:BB)")
	assert.Contains(t, out, `unknown command "bogus"`)
}

func TestConsole_SendFailureIsReported(t *testing.T) {
	controller := &fakeController{sendErr: device.ErrNotConnected}
	pc := startPipeConsole(t, controller)

	pc.typeLine(t, "send ping")
	pc.typeLine(t, "send")
	pc.typeLine(t, "q")

	require.ErrorIs(t, pc.wait(t), ErrQuit)
	assert.Contains(t, pc.out.String(), "send failed: not_connected")
	assert.Contains(t, pc.out.String(), "usage: send <text>")
}

func TestConsole_InterruptStopsTheProgram(t *testing.T) {
	rl := newScriptedReader(lineResult{err: readline.ErrInterrupt})
	c := New(rl, &fakeController{}, true, quietLogger())

	err := c.Run(context.Background())

	assert.ErrorIs(t, err, ErrQuit)
	_, promptErr := c.Prompt(context.Background(), "Select device: ")
	assert.True(t, errors.Is(promptErr, io.EOF))
}

func TestConsole_EndOfTerminalInputStopsTheProgram(t *testing.T) {
	rl := newScriptedReader(lineResult{err: io.EOF})
	c := New(rl, nil, true, quietLogger())

	assert.ErrorIs(t, c.Run(context.Background()), ErrQuit)
}

func TestConsole_RunStopsOnCancel(t *testing.T) {
	rl := newScriptedReader()
	c := New(rl, nil, true, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console MUST stop on cancel")
	}
}

// GOAL: Verify log lines never land on the record stream
//
// TEST SCENARIO: logger wired to Stderr, one error logged, one record printed → stdout holds only the record
func TestConsole_LogsStayOffTheRecordStream(t *testing.T) {
	out, errOut := &syncBuffer{}, &syncBuffer{}
	c := New(NewLineReader(strings.NewReader(""), out, errOut), nil, false, quietLogger())

	logger := logrus.New()
	logger.SetOutput(c.Stderr())
	logger.Error("Connect failed, retrying")
	_, err := io.WriteString(c.Stdout(), "12:30:45.148456 B\n")
	require.NoError(t, err)

	assert.Equal(t, "12:30:45.148456 B\n", out.String())
	assert.Contains(t, errOut.String(), "Connect failed, retrying")
}
