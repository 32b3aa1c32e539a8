package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// SSETransport POSTs dispatch requests and receives responses on the
// agent's server-sent event stream. The stream is subscribed once at
// construction; response events are routed to waiting dispatches by
// task ID.
type SSETransport struct {
	endpoint string
	client   *http.Client
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan *DispatchResponse
	cancel  context.CancelFunc
	closed  bool
}

// NewSSETransport subscribes to the agent's event stream.
func NewSSETransport(ctx context.Context, endpoint string, heartbeatEvery time.Duration, log zerolog.Logger) (*SSETransport, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	t := &SSETransport{
		endpoint: endpoint,
		client:   &http.Client{},
		pending:  make(map[string]chan *DispatchResponse),
		cancel:   cancel,
		log:      log.With().Str("component", "sse-transport").Str("endpoint", endpoint).Logger(),
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint+"/events", nil)
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.KindInternal, err, "build sse subscribe request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.KindTransportFailure, err, "subscribe to sse agent %s", endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, errs.New(errs.KindTransportFailure, "sse subscribe returned %s", resp.Status)
	}

	go t.readLoop(resp)
	go t.heartbeatLoop(streamCtx, heartbeatEvery)
	return t, nil
}

// Kind implements Transport.
func (t *SSETransport) Kind() models.TransportType { return models.TransportSSE }

// Dispatch POSTs the request; the response arrives on the event stream.
func (t *SSETransport) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	ch := make(chan *DispatchResponse, 1)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errs.New(errs.KindTransportFailure, "sse transport is closed")
	}
	t.pending[req.TaskID] = ch
	t.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		t.forget(req.TaskID)
		return nil, errs.Wrap(errs.KindInternal, err, "encode dispatch for task %s", req.TaskID)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/dispatch", bytes.NewReader(body))
	if err != nil {
		t.forget(req.TaskID)
		return nil, errs.Wrap(errs.KindInternal, err, "build dispatch request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.forget(req.TaskID)
		return nil, errs.Wrap(errs.KindTransportFailure, err, "dispatch for task %s failed", req.TaskID)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.forget(req.TaskID)
		return nil, errs.New(errs.KindTransportFailure, "agent returned %s for task %s", resp.Status, req.TaskID)
	}

	select {
	case out := <-ch:
		if out == nil {
			return nil, errs.New(errs.KindTransportFailure, "event stream closed while awaiting task %s", req.TaskID)
		}
		return out, nil
	case <-ctx.Done():
		t.forget(req.TaskID)
		return nil, errs.Wrap(errs.KindTransportFailure, ctx.Err(), "dispatch for task %s timed out", req.TaskID)
	}
}

// readLoop parses "data:" lines off the event stream and routes
// response payloads by task ID.
func (t *SSETransport) readLoop(resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var out DispatchResponse
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			t.log.Warn().Err(err).Msg("malformed sse event dropped")
			continue
		}
		if out.TaskID == "" {
			// Heartbeat event.
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[out.TaskID]
		delete(t.pending, out.TaskID)
		t.mu.Unlock()
		if ok {
			ch <- &out
		}
	}
	t.failAll()
}

// heartbeatLoop POSTs a liveness ping at the heartbeat cadence.
func (t *SSETransport) heartbeatLoop(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/heartbeat", nil)
			if err != nil {
				continue
			}
			if resp, err := t.client.Do(req); err == nil {
				resp.Body.Close()
			}
		case <-ctx.Done():
			return
		}
	}
}

// forget drops a pending dispatch entry.
func (t *SSETransport) forget(taskID string) {
	t.mu.Lock()
	delete(t.pending, taskID)
	t.mu.Unlock()
}

// failAll wakes every pending dispatch after stream loss.
func (t *SSETransport) failAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// Close cancels the stream subscription. Idempotent.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cancel()
	return nil
}

// Dispose implements lifecycle.Disposable.
func (t *SSETransport) Dispose() error { return t.Close() }
