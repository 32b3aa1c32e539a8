package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// WebsocketTransport frames dispatches as JSON envelopes over a
// bidirectional websocket. A background reader routes response
// envelopes to their waiting dispatch by envelope ID; a background
// writer heartbeats every polling interval.
type WebsocketTransport struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *DispatchResponse
	done    chan struct{}
	closed  bool
	log     zerolog.Logger
}

// NewWebsocketTransport dials the agent and starts the reader and
// heartbeat loops.
func NewWebsocketTransport(ctx context.Context, url string, heartbeatEvery time.Duration, log zerolog.Logger) (*WebsocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransportFailure, err, "dial websocket agent %s", url)
	}

	t := &WebsocketTransport{
		conn:    conn,
		pending: make(map[string]chan *DispatchResponse),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "ws-transport").Str("url", url).Logger(),
	}
	go t.readLoop()
	go t.heartbeatLoop(heartbeatEvery)
	return t, nil
}

// Kind implements Transport.
func (t *WebsocketTransport) Kind() models.TransportType { return models.TransportWebsocket }

// Dispatch sends a request envelope and waits for its response.
func (t *WebsocketTransport) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	id := uuid.NewString()
	ch := make(chan *DispatchResponse, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errs.New(errs.KindTransportFailure, "websocket transport is closed")
	}
	t.pending[id] = ch
	err := t.conn.WriteJSON(Envelope{Type: EnvelopeRequest, ID: id, Payload: req})
	t.mu.Unlock()
	if err != nil {
		t.forget(id)
		return nil, errs.Wrap(errs.KindTransportFailure, err, "write dispatch for task %s", req.TaskID)
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, errs.New(errs.KindTransportFailure, "websocket closed while awaiting task %s", req.TaskID)
		}
		return resp, nil
	case <-ctx.Done():
		t.forget(id)
		return nil, errs.Wrap(errs.KindTransportFailure, ctx.Err(), "dispatch for task %s timed out", req.TaskID)
	}
}

// readLoop routes inbound envelopes to waiting dispatches.
func (t *WebsocketTransport) readLoop() {
	for {
		var env struct {
			Type    string          `json:"type"`
			ID      string          `json:"id"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := t.conn.ReadJSON(&env); err != nil {
			t.failAll()
			return
		}

		switch env.Type {
		case EnvelopeResponse:
			var resp DispatchResponse
			if err := json.Unmarshal(env.Payload, &resp); err != nil {
				t.log.Warn().Err(err).Str("id", env.ID).Msg("malformed response envelope dropped")
				continue
			}
			t.mu.Lock()
			ch, ok := t.pending[env.ID]
			delete(t.pending, env.ID)
			t.mu.Unlock()
			if ok {
				ch <- &resp
			}
		case EnvelopeHeartbeat:
			// Agent-side liveness; the registry consumes it upstream.
		default:
			t.log.Warn().Str("type", env.Type).Msg("unknown envelope type dropped")
		}
	}
}

// heartbeatLoop sends heartbeat envelopes until Close.
func (t *WebsocketTransport) heartbeatLoop(every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			if !t.closed {
				if err := t.conn.WriteJSON(Envelope{Type: EnvelopeHeartbeat, ID: uuid.NewString()}); err != nil {
					t.log.Warn().Err(err).Msg("heartbeat write failed")
				}
			}
			t.mu.Unlock()
		case <-t.done:
			return
		}
	}
}

// forget drops a pending dispatch entry.
func (t *WebsocketTransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// failAll wakes every pending dispatch with a closed-channel nil.
func (t *WebsocketTransport) failAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// Close stops the loops and closes the connection.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	return t.conn.Close()
}

// Dispose implements lifecycle.Disposable.
func (t *WebsocketTransport) Dispose() error { return t.Close() }
