package raid

import (
	"context"

	"warzone2044/server/logging"
)

const (
	EventCreated         logging.EventType = "raid.created"
	EventJoined          logging.EventType = "raid.joined"
	EventLeft            logging.EventType = "raid.left"
	EventResolved        logging.EventType = "raid.resolved"
	EventRewardsSettled  logging.EventType = "raid.rewards_settled"
	EventSettlementError logging.EventType = "raid.settlement_error"
)

// CreatedPayload describes a freshly opened raid sector.
type CreatedPayload struct {
	Name        string `json:"name"`
	WorldSector string `json:"worldSector"`
}

// SettledPayload describes a completed reward settlement.
type SettledPayload struct {
	Pool      float64 `json:"pool"`
	Reference string  `json:"reference,omitempty"`
}

// Created publishes a raid creation event.
func Created(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload CreatedPayload) {
	publish(ctx, pub, EventCreated, actor, nil, logging.SeverityInfo, payload)
}

// Joined publishes a raid membership addition.
func Joined(ctx context.Context, pub logging.Publisher, raidRef, player logging.EntityRef) {
	publish(ctx, pub, EventJoined, raidRef, []logging.EntityRef{player}, logging.SeverityInfo, nil)
}

// Left publishes a raid membership removal.
func Left(ctx context.Context, pub logging.Publisher, raidRef, player logging.EntityRef) {
	publish(ctx, pub, EventLeft, raidRef, []logging.EntityRef{player}, logging.SeverityInfo, nil)
}

// Resolved publishes a raid lifecycle completion.
func Resolved(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, EventResolved, actor, nil, logging.SeverityInfo, nil)
}

// RewardsSettled publishes an exactly-once settlement record.
func RewardsSettled(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload SettledPayload) {
	publish(ctx, pub, EventRewardsSettled, actor, nil, logging.SeverityInfo, payload)
}

// SettlementError publishes a failed settlement attempt (retried by the
// async settler).
func SettlementError(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, err error) {
	if pub == nil || err == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSettlementError,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryRaid,
		Extra:    map[string]any{"error": err.Error()},
	})
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, actor logging.EntityRef, targets []logging.EntityRef, severity logging.Severity, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Targets:  targets,
		Severity: severity,
		Category: logging.CategoryRaid,
		Payload:  payload,
	})
}
