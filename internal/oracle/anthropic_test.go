package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/errs"
)

// messageBody wraps text in the messages API response shape.
func messageBody(text string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-20250514",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
	})
	return body
}

func intentText(t *testing.T, intent Intent) string {
	t.Helper()
	raw, err := json.Marshal(&IntentResult{Intent: intent, Confidence: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func newBackendOracle(baseURL string, timeout time.Duration, maxRetries int) *AnthropicOracle {
	return &AnthropicOracle{
		client: anthropic.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey("test-key"),
			option.WithMaxRetries(0),
		),
		model:      anthropic.ModelClaudeSonnet4_20250514,
		threshold:  1024,
		timeout:    timeout,
		maxRetries: maxRetries,
		backoff:    time.Millisecond,
		log:        zerolog.Nop(),
	}
}

func TestCallRetriesUntilBackendRecovers(t *testing.T) {
	var calls atomic.Int32
	reply := intentText(t, IntentListProjects)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(messageBody(reply))
	}))
	defer srv.Close()

	o := newBackendOracle(srv.URL, time.Second, 3)
	res, err := o.RecognizeIntent(context.Background(), "show my projects", nil)
	if err != nil {
		t.Fatalf("RecognizeIntent: %v", err)
	}
	if res.Intent != IntentListProjects {
		t.Errorf("intent = %q", res.Intent)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
}

func TestCallTimeoutBoundsEachAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.Write(messageBody("{}"))
	}))
	defer srv.Close()

	o := newBackendOracle(srv.URL, 20*time.Millisecond, 2)
	start := time.Now()
	_, err := o.RecognizeIntent(context.Background(), "anything", nil)
	if !errs.IsKind(err, errs.KindOracleUnavailable) {
		t.Fatalf("err = %v, want oracle unavailable", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want 3 (initial + 2 retries)", got)
	}
	// All attempts were cut off by the per-attempt timeout, not by the
	// backend's sleep.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("call took %v, attempts were not timeout-bounded", elapsed)
	}
}

func TestCallCancelledContextStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newBackendOracle(srv.URL, time.Second, 3)
	_, err := o.RecognizeIntent(ctx, "anything", nil)
	if err == nil {
		t.Fatal("expected an error from the cancelled context")
	}
	if got := calls.Load(); got > 1 {
		t.Errorf("backend calls = %d, cancelled context must not be retried", got)
	}
}

func TestCallMalformedResponseNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(messageBody(""))
	}))
	defer srv.Close()

	o := newBackendOracle(srv.URL, time.Second, 3)
	_, err := o.RecognizeIntent(context.Background(), "anything", nil)
	if !errs.IsKind(err, errs.KindOracleMalformed) {
		t.Fatalf("err = %v, want oracle malformed", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, malformed responses must not be retried", got)
	}
}
