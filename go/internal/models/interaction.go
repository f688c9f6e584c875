package models

import (
	"time"

	"github.com/google/uuid"
)

// InteractionStatus defines the lifecycle status of a live interaction.
type InteractionStatus string

const (
	InteractionStatusWaiting   InteractionStatus = "WAITING"
	InteractionStatusActive    InteractionStatus = "ACTIVE"
	InteractionStatusPaused    InteractionStatus = "PAUSED"
	InteractionStatusCompleted InteractionStatus = "COMPLETED"
)

// InteractionSettings holds per-room configuration.
type InteractionSettings struct {
	TurnBudgetSec    int `json:"turn_budget_sec"`
	ChatRetention    int `json:"chat_retention,omitempty"`
	EventJournalSize int `json:"event_journal_size,omitempty"`
}

// GameState is the root aggregate for one live interaction. It is owned by
// the room store and mutated only by the command processor; everything handed
// to callers is a deep copy.
type GameState struct {
	RoomID           uuid.UUID                       `json:"room_id"`
	Status           InteractionStatus               `json:"status"`
	DMUserID         uuid.UUID                       `json:"dm_user_id"`
	Settings         InteractionSettings             `json:"settings"`
	InitiativeOrder  []InitiativeEntry               `json:"initiative_order"`
	CurrentTurnIndex int                             `json:"current_turn_index"`
	RoundNumber      int                             `json:"round_number"`
	Participants     map[uuid.UUID]ParticipantState  `json:"participants"`
	TurnHistory      []TurnRecord                    `json:"turn_history"`
	ChatLog          []ChatMessage                   `json:"chat_log"`
	TurnStartedAt    *time.Time                      `json:"turn_started_at,omitempty"`
	TurnDeadline     *time.Time                      `json:"turn_deadline,omitempty"`
	TurnRemaining    time.Duration                   `json:"turn_remaining,omitempty"`
	LastEventSeq     uint64                          `json:"last_event_seq"`
	CreatedAt        time.Time                       `json:"created_at"`
	LastModifiedAt   time.Time                       `json:"last_modified_at"`
}

// ActiveEntry returns the initiative entry whose turn is active. The second
// return is false when the order is empty.
func (g *GameState) ActiveEntry() (InitiativeEntry, bool) {
	if len(g.InitiativeOrder) == 0 || g.CurrentTurnIndex < 0 || g.CurrentTurnIndex >= len(g.InitiativeOrder) {
		return InitiativeEntry{}, false
	}
	return g.InitiativeOrder[g.CurrentTurnIndex], true
}

// Clone returns a deep copy of the state. Slices, maps and nested values are
// copied so the original can never be reached through the result.
func (g *GameState) Clone() *GameState {
	if g == nil {
		return nil
	}
	out := *g

	out.InitiativeOrder = make([]InitiativeEntry, len(g.InitiativeOrder))
	copy(out.InitiativeOrder, g.InitiativeOrder)

	out.Participants = make(map[uuid.UUID]ParticipantState, len(g.Participants))
	for id, p := range g.Participants {
		out.Participants[id] = p.clone()
	}

	out.TurnHistory = make([]TurnRecord, len(g.TurnHistory))
	for i, r := range g.TurnHistory {
		out.TurnHistory[i] = r.clone()
	}

	out.ChatLog = make([]ChatMessage, len(g.ChatLog))
	for i, m := range g.ChatLog {
		out.ChatLog[i] = m.clone()
	}

	if g.TurnStartedAt != nil {
		t := *g.TurnStartedAt
		out.TurnStartedAt = &t
	}
	if g.TurnDeadline != nil {
		t := *g.TurnDeadline
		out.TurnDeadline = &t
	}
	return &out
}
