package network

import (
	"context"

	"warzone2044/server/logging"
)

const (
	// EventProtocolError is emitted when a client sends an unparseable or
	// unknown message.
	EventProtocolError logging.EventType = "network.protocol_error"
	// EventQueueOverflow is emitted when a subscriber's outbound queue
	// evicts an update.
	EventQueueOverflow logging.EventType = "network.queue_overflow"
	// EventRateLimited is emitted when a client exceeds the inbound
	// intent budget.
	EventRateLimited logging.EventType = "network.rate_limited"
)

// ProtocolErrorPayload describes the rejected input.
type ProtocolErrorPayload struct {
	Reason string `json:"reason"`
}

// QueueOverflowPayload describes an eviction from an outbound queue.
type QueueOverflowPayload struct {
	Dropped string `json:"dropped"`
}

// ProtocolError publishes a malformed-input event.
func ProtocolError(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ProtocolErrorPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventProtocolError,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// QueueOverflow publishes a slow-client eviction event.
func QueueOverflow(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload QueueOverflowPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventQueueOverflow,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// RateLimited publishes an intent-budget event.
func RateLimited(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRateLimited,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
	})
}
