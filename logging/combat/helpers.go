package combat

import (
	"context"

	"warzone2044/server/logging"
)

const (
	// EventCombatResolved is emitted after an evaluator outcome is applied.
	EventCombatResolved logging.EventType = "combat.resolved"
	// EventPlayerDefeated is emitted when a participant's health reaches zero.
	EventPlayerDefeated logging.EventType = "combat.player_defeated"
	// EventPlayerRespawned is emitted when a player returns to the spawn point.
	EventPlayerRespawned logging.EventType = "combat.player_respawned"
)

// ResolvedPayload captures the health deltas an evaluator produced.
type ResolvedPayload struct {
	RaidID         string `json:"raidId"`
	AttackerDamage int    `json:"attackerDamage"`
	DefenderDamage int    `json:"defenderDamage"`
}

// Resolved publishes a combat-outcome event.
func Resolved(ctx context.Context, pub logging.Publisher, attacker, defender logging.EntityRef, payload ResolvedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCombatResolved,
		Actor:    attacker,
		Targets:  []logging.EntityRef{defender},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

// PlayerDefeated publishes a defeat event.
func PlayerDefeated(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerDefeated,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
	})
}

// PlayerRespawned publishes a respawn event.
func PlayerRespawned(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerRespawned,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
	})
}
