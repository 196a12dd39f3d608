// Package persistence stores player progression across sessions. The hot
// path never touches the store directly; the write-behind queue absorbs
// saves so a slow disk cannot stall the simulation.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a load for a player id with no stored record.
var ErrNotFound = errors.New("player record not found")

// PlayerRecord is the durable slice of a player: progression and the last
// known position. Transient combat state (hp, alive) is never persisted.
type PlayerRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	XP        int64     `json:"xp"`
	LastX     float64   `json:"lastX"`
	LastY     float64   `json:"lastY"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the durable backend. Save upserts by record id.
type Store interface {
	Save(ctx context.Context, record PlayerRecord) error
	Load(ctx context.Context, id string) (PlayerRecord, error)
	Close() error
}
