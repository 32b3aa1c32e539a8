package oracle

import (
	"context"
	"sync"

	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// QueueOracle is a deterministic Oracle for tests. Responses are
// enqueued per call kind and returned in FIFO order; an empty queue
// surfaces as OracleUnavailable, which exercises the callers' fallback
// paths.
type QueueOracle struct {
	mu         sync.Mutex
	intents    []*IntentResult
	atomics    []*AtomicResult
	decomposes []*DecomposeResult

	// Calls records every invocation in order, by kind.
	Calls []string
}

// NewQueueOracle creates an empty queue oracle.
func NewQueueOracle() *QueueOracle {
	return &QueueOracle{}
}

// PushIntent enqueues an intent response.
func (q *QueueOracle) PushIntent(r *IntentResult) *QueueOracle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intents = append(q.intents, r)
	return q
}

// PushAtomic enqueues an atomic-detection response.
func (q *QueueOracle) PushAtomic(r *AtomicResult) *QueueOracle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.atomics = append(q.atomics, r)
	return q
}

// PushDecompose enqueues a decomposition response.
func (q *QueueOracle) PushDecompose(r *DecomposeResult) *QueueOracle {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.decomposes = append(q.decomposes, r)
	return q
}

// RecognizeIntent implements Oracle.
func (q *QueueOracle) RecognizeIntent(ctx context.Context, utterance string, params map[string]string) (*IntentResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Calls = append(q.Calls, "intent")
	if len(q.intents) == 0 {
		return nil, errs.New(errs.KindOracleUnavailable, "no queued intent response")
	}
	r := q.intents[0]
	q.intents = q.intents[1:]
	return r, nil
}

// DetectAtomic implements Oracle.
func (q *QueueOracle) DetectAtomic(ctx context.Context, task *models.AtomicTask, pc ProjectContext) (*AtomicResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Calls = append(q.Calls, "atomic")
	if len(q.atomics) == 0 {
		return nil, errs.New(errs.KindOracleUnavailable, "no queued atomic response")
	}
	r := q.atomics[0]
	q.atomics = q.atomics[1:]
	return r, nil
}

// DecomposeTask implements Oracle.
func (q *QueueOracle) DecomposeTask(ctx context.Context, task *models.AtomicTask, pc ProjectContext) (*DecomposeResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Calls = append(q.Calls, "decompose")
	if len(q.decomposes) == 0 {
		return nil, errs.New(errs.KindOracleUnavailable, "no queued decompose response")
	}
	r := q.decomposes[0]
	q.decomposes = q.decomposes[1:]
	return r, nil
}

// CallCount returns how many calls of the given kind were made.
func (q *QueueOracle) CallCount(kind string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.Calls {
		if c == kind {
			n++
		}
	}
	return n
}
