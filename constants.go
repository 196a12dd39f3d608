// Package server hosts the synchronization hub: the authoritative bridge
// between client connections and the world, registry, interest, and raid
// components.
package server

import "time"

const (
	// ProtocolVersion mirrors the wire-protocol revision in internal/net/proto.
	ProtocolVersion = 1

	// bulletLifetime bounds how long a shot stays in interest views. The
	// server does not simulate travel; expiry only caps replication.
	bulletLifetime = 1500 * time.Millisecond

	// janitorInterval paces the background sweep that prunes expired
	// bullets.
	janitorInterval = 500 * time.Millisecond

	// DefaultQueueSize bounds each subscriber's outbound queue.
	DefaultQueueSize = 128
)
