// Package proto defines the JSON wire protocol between clients and the
// sync server. Every message carries a `type` discriminator; inbound
// payloads are validated here so the hub only sees well-formed intents.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

// Client message type identifiers.
const (
	TypeMove    = "move"
	TypeShoot   = "shoot"
	TypeRespawn = "respawn"
)

// Server message type identifiers.
const (
	TypeInit  = "init"
	TypeJoin  = "join"
	TypeLeave = "leave"
	TypeError = "error"
)

var (
	// ErrMalformed marks payloads that fail to parse or omit required fields.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType marks payloads whose type discriminator is not recognized.
	ErrUnknownType = errors.New("unknown message type")
)

// ClientMessage captures an inbound websocket message. Pointer fields
// distinguish an absent value from a zero one during validation. Clients
// may still send hp/alive on move messages; the server discards them and
// applies its own authoritative values on fan-out.
type ClientMessage struct {
	Type  string   `json:"type"`
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Angle *float64 `json:"angle,omitempty"`
	HP    *int     `json:"hp,omitempty"`
	Alive *bool    `json:"alive,omitempty"`
}

// DecodeClientMessage converts a raw websocket payload into a validated
// message. Errors wrap ErrMalformed or ErrUnknownType.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch msg.Type {
	case TypeMove, TypeRespawn:
		if msg.X == nil || msg.Y == nil {
			return msg, fmt.Errorf("%w: %s requires x and y", ErrMalformed, msg.Type)
		}
	case TypeShoot:
		if msg.X == nil || msg.Y == nil || msg.Angle == nil {
			return msg, fmt.Errorf("%w: shoot requires x, y and angle", ErrMalformed)
		}
	case "":
		return msg, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return msg, nil
}

// PlayerSnapshot is the per-player state embedded in init payloads.
type PlayerSnapshot struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	HP    int     `json:"hp"`
	Alive bool    `json:"alive"`
}

// InitMessage is sent once after connect: the new session id plus the
// interest-filtered view of nearby players.
type InitMessage struct {
	Type    string                    `json:"type"`
	ID      string                    `json:"id"`
	Players map[string]PlayerSnapshot `json:"players"`
}

// JoinMessage announces a newly relevant player to an observer.
type JoinMessage struct {
	Type string  `json:"type"`
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// MoveMessage fans a validated move out to observers. Health and
// aliveness are the server's values, never the client's.
type MoveMessage struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	HP    int     `json:"hp"`
	Alive bool    `json:"alive"`
}

// ShootMessage fans a shot origin and angle out to observers.
type ShootMessage struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// RespawnMessage announces a respawned player; hp and alive are forced by
// the server.
type RespawnMessage struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	HP    int     `json:"hp"`
	Alive bool    `json:"alive"`
}

// LeaveMessage tells observers a player left their interest set.
type LeaveMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ErrorMessage reports a per-connection fault without closing the
// connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewInit(id string, players map[string]PlayerSnapshot) InitMessage {
	if players == nil {
		players = map[string]PlayerSnapshot{}
	}
	return InitMessage{Type: TypeInit, ID: id, Players: players}
}

func NewJoin(id string, x, y float64) JoinMessage {
	return JoinMessage{Type: TypeJoin, ID: id, X: x, Y: y}
}

func NewMove(id string, x, y float64, hp int, alive bool) MoveMessage {
	return MoveMessage{Type: TypeMove, ID: id, X: x, Y: y, HP: hp, Alive: alive}
}

func NewShoot(id string, x, y, angle float64) ShootMessage {
	return ShootMessage{Type: TypeShoot, ID: id, X: x, Y: y, Angle: angle}
}

func NewRespawn(id string, x, y float64, hp int, alive bool) RespawnMessage {
	return RespawnMessage{Type: TypeRespawn, ID: id, X: x, Y: y, HP: hp, Alive: alive}
}

func NewLeave(id string) LeaveMessage {
	return LeaveMessage{Type: TypeLeave, ID: id}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// Encode renders any outbound message as JSON.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
