// Package command validates and applies client-submitted commands against a
// room's GameState. Transitions are pure: they clone the input state, mutate
// the clone, and return it with the events describing what happened. A failed
// command returns the typed error and nothing else, so callers can never
// observe a partial mutation.
package command

import (
	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/models"
)

// SkipReasonTimeout marks a skip synthesized by the turn scheduler. The
// processor records it as TIMED_OUT instead of SKIPPED; nothing else about
// the path differs from a manual skip.
const SkipReasonTimeout = "timeout"

// Meta identifies the issuer of a command. Identity is resolved by the auth
// boundary before the command reaches the processor; System marks commands
// synthesized by the engine itself (scheduler timeouts).
type Meta struct {
	ActorUserID uuid.UUID
	IsDM        bool
	System      bool
	Correlation string
}

// Command is the closed set of operations a room accepts.
type Command interface {
	meta() Meta
	isCommand()
}

func (m Meta) meta() Meta { return m }

// Join adds a combatant to the room.
type Join struct {
	Meta
	Participant     models.ParticipantState
	InitiativeScore int
}

// Leave removes a combatant from the room.
type Leave struct {
	Meta
	EntityID uuid.UUID
}

// Start transitions the room from Waiting to Active. DM only.
type Start struct {
	Meta
}

// TakeTurn performs the active participant's turn.
type TakeTurn struct {
	Meta
	Action models.TurnAction
}

// SkipTurn forfeits the active participant's turn.
type SkipTurn struct {
	Meta
	EntityID uuid.UUID
	Reason   string
}

// SendChat appends a chat message.
type SendChat struct {
	Meta
	EntityID   *uuid.UUID
	Content    string
	Channel    models.ChatChannel
	Recipients []uuid.UUID
}

// Pause suspends the encounter, preserving the active turn's remaining time.
type Pause struct {
	Meta
	Reason string
}

// Resume restores a paused encounter with the remaining countdown.
type Resume struct {
	Meta
}

// Rollback rewinds turn history to the target turn. DM only.
type Rollback struct {
	Meta
	TurnNumber  int
	RoundNumber int
}

// UpdateInitiative replaces the turn order. DM only.
type UpdateInitiative struct {
	Meta
	Order []models.InitiativeEntry
}

// Complete ends the encounter. DM only.
type Complete struct {
	Meta
}

func (Join) isCommand()             {}
func (Leave) isCommand()            {}
func (Start) isCommand()            {}
func (TakeTurn) isCommand()         {}
func (SkipTurn) isCommand()         {}
func (SendChat) isCommand()         {}
func (Pause) isCommand()            {}
func (Resume) isCommand()           {}
func (Rollback) isCommand()         {}
func (UpdateInitiative) isCommand() {}
func (Complete) isCommand()         {}
