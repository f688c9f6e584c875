// Package events defines the typed event stream a room emits. Every state
// transition that succeeds in the command processor is described by exactly
// one of the payload types here; the set is closed and consumers match it
// exhaustively.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

const (
	TypeParticipantJoined    Type = "ParticipantJoined"
	TypeParticipantLeft      Type = "ParticipantLeft"
	TypeInteractionStarted   Type = "InteractionStarted"
	TypeTurnStarted          Type = "TurnStarted"
	TypeTurnCompleted        Type = "TurnCompleted"
	TypeTurnSkipped          Type = "TurnSkipped"
	TypeChatMessage          Type = "ChatMessage"
	TypeInitiativeUpdated    Type = "InitiativeUpdated"
	TypeInteractionPaused    Type = "InteractionPaused"
	TypeInteractionResumed   Type = "InteractionResumed"
	TypeTurnRolledBack       Type = "TurnRolledBack"
	TypeInteractionCompleted Type = "InteractionCompleted"
	TypeError                Type = "Error"
)

// GameEvent is the envelope published for every room event. Seq is assigned
// by the room store and increases by one per event within a room, so
// subscribers can detect gaps and request replay.
type GameEvent struct {
	ID          string          `json:"id"`
	RoomID      string          `json:"room_id"`
	Type        Type            `json:"type"`
	Seq         uint64          `json:"seq"`
	Correlation string          `json:"correlation,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

// New wraps a payload into an envelope. Seq is filled in later by the store.
func New(roomID uuid.UUID, typ Type, payload interface{}) (GameEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return GameEvent{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return GameEvent{
		ID:     uuid.New().String(),
		RoomID: roomID.String(),
		Type:   typ,
		Data:   data,
	}, nil
}

// ParsePayload decodes the envelope's data into the payload struct for its
// type. Unknown types are an error; the event set is closed.
func ParsePayload(ev *GameEvent) (interface{}, error) {
	decode := func(v interface{}) (interface{}, error) {
		if err := json.Unmarshal(ev.Data, v); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", ev.Type, err)
		}
		return v, nil
	}

	switch ev.Type {
	case TypeParticipantJoined:
		return decode(&ParticipantJoinedPayload{})
	case TypeParticipantLeft:
		return decode(&ParticipantLeftPayload{})
	case TypeInteractionStarted:
		return decode(&InteractionStartedPayload{})
	case TypeTurnStarted:
		return decode(&TurnStartedPayload{})
	case TypeTurnCompleted:
		return decode(&TurnCompletedPayload{})
	case TypeTurnSkipped:
		return decode(&TurnSkippedPayload{})
	case TypeChatMessage:
		return decode(&ChatMessagePayload{})
	case TypeInitiativeUpdated:
		return decode(&InitiativeUpdatedPayload{})
	case TypeInteractionPaused:
		return decode(&InteractionPausedPayload{})
	case TypeInteractionResumed:
		return decode(&InteractionResumedPayload{})
	case TypeTurnRolledBack:
		return decode(&TurnRolledBackPayload{})
	case TypeInteractionCompleted:
		return decode(&InteractionCompletedPayload{})
	case TypeError:
		return decode(&ErrorPayload{})
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}
