package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// HTTPTransport POSTs dispatches to the agent's endpoint with bearer
// authentication. Agents without a push channel are polled for
// heartbeats at the polling interval.
type HTTPTransport struct {
	endpoint  string
	authToken string
	client    *http.Client
	log       zerolog.Logger

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
	closed bool

	// onHeartbeat, when set, is invoked after every successful poll.
	onHeartbeat func()
}

// NewHTTPTransport creates a polling HTTP transport.
func NewHTTPTransport(endpoint, authToken string, pollingInterval time.Duration, onHeartbeat func(), log zerolog.Logger) *HTTPTransport {
	t := &HTTPTransport{
		endpoint:    endpoint,
		authToken:   authToken,
		client:      &http.Client{Timeout: 30 * time.Second},
		done:        make(chan struct{}),
		onHeartbeat: onHeartbeat,
		log:         log.With().Str("component", "http-transport").Str("endpoint", endpoint).Logger(),
	}
	if pollingInterval > 0 {
		t.ticker = time.NewTicker(pollingInterval)
		go t.pollLoop()
	}
	return t
}

// Kind implements Transport.
func (t *HTTPTransport) Kind() models.TransportType { return models.TransportHTTP }

// Dispatch POSTs the request to the agent's dispatch endpoint.
func (t *HTTPTransport) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "encode dispatch for task %s", req.TaskID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/dispatch", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "build dispatch request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransportFailure, err, "dispatch for task %s failed", req.TaskID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.KindTransportFailure, "agent returned %s for task %s", resp.Status, req.TaskID)
	}

	var out DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.KindTransportFailure, err, "decode dispatch response for task %s", req.TaskID)
	}
	return &out, nil
}

// pollLoop polls the agent's heartbeat endpoint until Close.
func (t *HTTPTransport) pollLoop() {
	for {
		select {
		case <-t.ticker.C:
			if err := t.poll(); err != nil {
				t.log.Warn().Err(err).Msg("heartbeat poll failed")
				continue
			}
			if t.onHeartbeat != nil {
				t.onHeartbeat()
			}
		case <-t.done:
			return
		}
	}
}

// poll GETs the heartbeat endpoint once.
func (t *HTTPTransport) poll() error {
	req, err := http.NewRequest(http.MethodGet, t.endpoint+"/heartbeat", nil)
	if err != nil {
		return err
	}
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat returned %s", resp.Status)
	}
	return nil
}

// Close stops polling. Idempotent.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.ticker != nil {
		t.ticker.Stop()
		close(t.done)
	}
	return nil
}

// Dispose implements lifecycle.Disposable.
func (t *HTTPTransport) Dispose() error { return t.Close() }
