package server

import (
	"sync/atomic"
)

type telemetryCounters struct {
	connections      atomic.Uint64
	disconnects      atomic.Uint64
	messagesIn       atomic.Uint64
	messagesOut      atomic.Uint64
	messagesDropped  atomic.Uint64
	protocolErrors   atomic.Uint64
	bytesSent        atomic.Uint64
	bulletsSpawned   atomic.Uint64
	bulletsExpired   atomic.Uint64
	unknownSessions  atomic.Uint64
	lastFanoutBytes  atomic.Uint64
	lastFanoutTarget atomic.Uint64
}

// TelemetrySnapshot is the JSON view served by the diagnostics endpoint.
type TelemetrySnapshot struct {
	Connections     uint64 `json:"connections"`
	Disconnects     uint64 `json:"disconnects"`
	MessagesIn      uint64 `json:"messagesIn"`
	MessagesOut     uint64 `json:"messagesOut"`
	MessagesDropped uint64 `json:"messagesDropped"`
	ProtocolErrors  uint64 `json:"protocolErrors"`
	BytesSent       uint64 `json:"bytesSent"`
	BulletsSpawned  uint64 `json:"bulletsSpawned"`
	BulletsExpired  uint64 `json:"bulletsExpired"`
	UnknownSessions uint64 `json:"unknownSessions"`
}

func newTelemetryCounters() *telemetryCounters {
	return &telemetryCounters{}
}

func (t *telemetryCounters) RecordConnect()       { t.connections.Add(1) }
func (t *telemetryCounters) RecordDisconnect()    { t.disconnects.Add(1) }
func (t *telemetryCounters) RecordInbound()       { t.messagesIn.Add(1) }
func (t *telemetryCounters) RecordProtocolError() { t.protocolErrors.Add(1) }
func (t *telemetryCounters) RecordBulletSpawn()   { t.bulletsSpawned.Add(1) }
func (t *telemetryCounters) RecordUnknownSession() {
	t.unknownSessions.Add(1)
}

func (t *telemetryCounters) RecordBulletsExpired(count int) {
	if count > 0 {
		t.bulletsExpired.Add(uint64(count))
	}
}

func (t *telemetryCounters) RecordFanout(bytes, targets, dropped int) {
	if bytes < 0 {
		bytes = 0
	}
	if targets < 0 {
		targets = 0
	}
	sent := targets - dropped
	if sent > 0 {
		t.messagesOut.Add(uint64(sent))
		t.bytesSent.Add(uint64(bytes * sent))
	}
	if dropped > 0 {
		t.messagesDropped.Add(uint64(dropped))
	}
	t.lastFanoutBytes.Store(uint64(bytes))
	t.lastFanoutTarget.Store(uint64(targets))
}

func (t *telemetryCounters) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		Connections:     t.connections.Load(),
		Disconnects:     t.disconnects.Load(),
		MessagesIn:      t.messagesIn.Load(),
		MessagesOut:     t.messagesOut.Load(),
		MessagesDropped: t.messagesDropped.Load(),
		ProtocolErrors:  t.protocolErrors.Load(),
		BytesSent:       t.bytesSent.Load(),
		BulletsSpawned:  t.bulletsSpawned.Load(),
		BulletsExpired:  t.bulletsExpired.Load(),
		UnknownSessions: t.unknownSessions.Load(),
	}
}
