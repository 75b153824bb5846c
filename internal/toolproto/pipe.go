package toolproto

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"toolgate/internal/framing"
)

// pipeKillGrace is how long a child may take to exit after its stdin closes.
const pipeKillGrace = 2 * time.Second

// PipeOptions configures a child-process transport.
type PipeOptions struct {
	Command string
	Args    []string
	// Env is added to the parent environment.
	Env map[string]string
}

// PipeTransport owns one child process and exchanges newline-delimited JSON
// over its stdin and stdout. Stderr lines are logged.
type PipeTransport struct {
	server string
	opts   PipeOptions

	// writeSem admits one stdin write at a time. A write blocked on a full
	// pipe keeps it until the write completes or stdin is closed.
	writeSem chan struct{}
	stdinMu  sync.Mutex
	stdin    io.WriteCloser

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	closing atomic.Bool
}

// NewPipeTransport returns a transport for the named server. The process
// starts on Connect.
func NewPipeTransport(server string, opts PipeOptions) *PipeTransport {
	return &PipeTransport{server: server, opts: opts, writeSem: make(chan struct{}, 1)}
}

// Connect implements Transport.
func (t *PipeTransport) Connect(_ context.Context, recv Receiver) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		return nil
	}

	cmd := exec.Command(t.opts.Command, t.opts.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return t.processError(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return t.processError(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return t.processError(err)
	}
	if err := cmd.Start(); err != nil {
		return t.processError(fmt.Errorf("start %s: %w", t.opts.Command, err))
	}

	t.closing.Store(false)
	t.cmd = cmd
	t.stdinMu.Lock()
	t.stdin = stdin
	t.stdinMu.Unlock()
	exited := make(chan struct{})
	t.exited = exited

	slog.Info("tool server process started", "server", t.server, "command", t.opts.Command, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		t.readStdout(stdout, recv)
	}()
	go func() {
		defer readers.Done()
		t.logStderr(stderr)
	}()
	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		close(exited)
		if t.closing.Load() {
			return
		}
		if waitErr == nil {
			waitErr = errors.New("process exited")
		}
		slog.Warn("tool server process exited", "server", t.server, "error", waitErr)
		recv.HandleTransportError(t.processError(waitErr))
	}()
	return nil
}

func (t *PipeTransport) processError(err error) error {
	return &TransportError{Kind: KindProcess, Server: t.server, Err: err}
}

func (t *PipeTransport) readStdout(stdout io.Reader, recv Receiver) {
	var lines framing.LineBuffer
	buf := make([]byte, 32*1024)
	deliver := func(line []byte) {
		if len(bytes.TrimSpace(line)) == 0 {
			return
		}
		recv.HandleMessage(line)
	}
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, line := range lines.Push(buf[:n]) {
				deliver(line)
			}
		}
		if err != nil {
			if rest := lines.Flush(); rest != nil {
				deliver(rest)
			}
			return
		}
	}
}

func (t *PipeTransport) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Debug("tool server stderr", "server", t.server, "line", scanner.Text())
	}
}

// Send implements Transport. It returns when the line is written or ctx
// ends; a child that stops reading stdin cannot block the caller past ctx.
func (t *PipeTransport) Send(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	data = append(data, '\n')

	select {
	case t.writeSem <- struct{}{}:
	case <-ctx.Done():
		return t.contextError(ctx)
	}

	t.stdinMu.Lock()
	stdin := t.stdin
	t.stdinMu.Unlock()
	if stdin == nil {
		<-t.writeSem
		return &TransportError{Kind: KindClosed, Server: t.server, Err: ErrClientClosed}
	}

	// Lines must not interleave, so the write finishes in the background
	// and releases writeSem even when the caller gave up.
	done := make(chan error, 1)
	go func() {
		_, err := stdin.Write(data)
		<-t.writeSem
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return t.processError(fmt.Errorf("write: %w", err))
		}
		return nil
	case <-ctx.Done():
		return t.contextError(ctx)
	}
}

func (t *PipeTransport) contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Server: t.server, Err: ctx.Err()}
	}
	return ctx.Err()
}

// Disconnect closes stdin, gives the child a grace period to exit, then
// kills it.
func (t *PipeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil {
		return nil
	}
	t.closing.Store(true)

	// Closing stdin also unblocks a write stuck on a full pipe.
	t.stdinMu.Lock()
	if t.stdin != nil {
		_ = t.stdin.Close()
		t.stdin = nil
	}
	t.stdinMu.Unlock()

	var err error
	select {
	case <-t.exited:
	case <-time.After(pipeKillGrace):
		if killErr := t.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = t.processError(killErr)
		}
		<-t.exited
	}
	slog.Info("tool server process stopped", "server", t.server)
	t.cmd = nil
	return err
}
