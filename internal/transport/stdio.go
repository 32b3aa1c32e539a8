package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// StdioTransport speaks line-delimited JSON over a child process's
// stdin and stdout. A single reader goroutine owns stdout for the life
// of the process and routes response lines to waiting dispatches by
// task ID, so an abandoned dispatch never steals or drops another
// request's reply.
type StdioTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan *DispatchResponse
	closed  bool
}

// NewStdioTransport starts the agent child process.
func NewStdioTransport(ctx context.Context, command string, args []string, log zerolog.Logger) (*StdioTransport, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransportFailure, err, "open agent stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransportFailure, err, "open agent stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindTransportFailure, err, "start agent process %s", command)
	}

	t := &StdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[string]chan *DispatchResponse),
		log:     log.With().Str("component", "stdio-transport").Str("command", command).Logger(),
	}
	go t.readLoop(stdout)
	return t, nil
}

// Kind implements Transport.
func (t *StdioTransport) Kind() models.TransportType { return models.TransportStdio }

// Dispatch writes one request line and waits for the matching response
// from the reader goroutine.
func (t *StdioTransport) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	ch := make(chan *DispatchResponse, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errs.New(errs.KindTransportFailure, "stdio transport is closed")
	}
	t.pending[req.TaskID] = ch
	t.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		t.forget(req.TaskID)
		return nil, errs.Wrap(errs.KindInternal, err, "encode dispatch for task %s", req.TaskID)
	}

	// Serialize writes; interleaved lines would corrupt the framing.
	t.mu.Lock()
	_, err = t.stdin.Write(append(line, '\n'))
	t.mu.Unlock()
	if err != nil {
		t.forget(req.TaskID)
		return nil, errs.Wrap(errs.KindTransportFailure, err, "write dispatch for task %s", req.TaskID)
	}

	select {
	case out := <-ch:
		if out == nil {
			return nil, errs.New(errs.KindTransportFailure, "agent stdout closed while awaiting task %s", req.TaskID)
		}
		return out, nil
	case <-ctx.Done():
		t.forget(req.TaskID)
		return nil, errs.Wrap(errs.KindTransportFailure, ctx.Err(), "dispatch for task %s timed out", req.TaskID)
	}
}

// readLoop owns the child's stdout and routes response lines by task
// ID. Heartbeat lines carry no task ID and are consumed silently.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		var resp DispatchResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.log.Warn().Err(err).Msg("unparseable agent line dropped")
			continue
		}
		if resp.TaskID == "" {
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.TaskID]
		delete(t.pending, resp.TaskID)
		t.mu.Unlock()
		if ok {
			ch <- &resp
		} else {
			t.log.Warn().Str("taskId", resp.TaskID).Msg("response with no waiting dispatch dropped")
		}
	}
	t.failAllPending()
}

// forget drops a pending dispatch entry.
func (t *StdioTransport) forget(taskID string) {
	t.mu.Lock()
	delete(t.pending, taskID)
	t.mu.Unlock()
}

// failAllPending wakes every waiting dispatch after stdout closes.
func (t *StdioTransport) failAllPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// Close terminates the child process.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.stdin.Close()
	if t.cmd.Process != nil {
		if err := t.cmd.Process.Kill(); err != nil {
			t.log.Warn().Err(err).Msg("kill agent process")
		}
	}
	t.cmd.Wait()
	return nil
}

// Dispose implements lifecycle.Disposable.
func (t *StdioTransport) Dispose() error { return t.Close() }
