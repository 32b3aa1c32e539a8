// Package transport carries task dispatches and heartbeats to remote
// agents over four shapes: stdio child processes, server-sent events,
// websockets, and plain authenticated HTTP with polling. All four
// share one dispatch contract.
package transport

import (
	"context"
	"time"

	"github.com/vibecoder/taskman/pkg/models"
)

// DispatchRequest is the wire contract every transport sends.
type DispatchRequest struct {
	// TaskID identifies the dispatched task.
	TaskID string `json:"taskId"`
	// Task is the full task payload.
	Task *models.AtomicTask `json:"task"`
	// Deadline is when the agent must have responded.
	Deadline time.Time `json:"deadline"`
}

// DispatchResponse is the agent's reply to a dispatch.
type DispatchResponse struct {
	// TaskID echoes the request.
	TaskID string `json:"taskId"`
	// Accepted is true when the agent took the task.
	Accepted bool `json:"accepted"`
	// Message carries an optional rejection reason.
	Message string `json:"message,omitempty"`
}

// Transport delivers dispatches to one agent endpoint. Implementations
// must be safe for concurrent use and must emit a heartbeat at least
// every polling interval while open.
type Transport interface {
	// Kind identifies the transport shape.
	Kind() models.TransportType
	// Dispatch sends a task and waits for the agent's reply.
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error)
	// Close releases the underlying channel. Idempotent.
	Close() error
}

// Envelope frames websocket and sse traffic.
type Envelope struct {
	// Type discriminates the payload: request, response, or heartbeat.
	Type string `json:"type"`
	// ID correlates responses with requests.
	ID string `json:"id"`
	// Payload carries the typed body.
	Payload any `json:"payload,omitempty"`
}

// Envelope types.
const (
	EnvelopeRequest   = "request"
	EnvelopeResponse  = "response"
	EnvelopeHeartbeat = "heartbeat"
)
