package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/models"
)

// ParticipantJoinedPayload announces a new combatant. The full initiative
// order is included because joining re-sorts it; every client must land on
// the identical ordering.
type ParticipantJoinedPayload struct {
	Participant      models.ParticipantState  `json:"participant"`
	InitiativeOrder  []models.InitiativeEntry `json:"initiative_order"`
	CurrentTurnIndex int                      `json:"current_turn_index"`
	JoinedAt         time.Time                `json:"joined_at"`
}

// ParticipantLeftPayload announces a combatant's removal.
type ParticipantLeftPayload struct {
	EntityID         uuid.UUID                `json:"entity_id"`
	InitiativeOrder  []models.InitiativeEntry `json:"initiative_order"`
	CurrentTurnIndex int                      `json:"current_turn_index"`
	RoundNumber      int                      `json:"round_number"`
	LeftAt           time.Time                `json:"left_at"`
}

// InteractionStartedPayload marks the Waiting -> Active transition.
type InteractionStartedPayload struct {
	StartedAt       time.Time                `json:"started_at"`
	InitiativeOrder []models.InitiativeEntry `json:"initiative_order"`
}

// TurnStartedPayload marks a new active turn. DeadlineAt is the server-owned
// timeout instant; clients derive their visible countdown from it instead of
// ticking independently.
type TurnStartedPayload struct {
	EntityID     uuid.UUID `json:"entity_id"`
	TurnIndex    int       `json:"turn_index"`
	RoundNumber  int       `json:"round_number"`
	StartedAt    time.Time `json:"started_at"`
	DeadlineAt   time.Time `json:"deadline_at"`
	TurnBudgetSec int      `json:"turn_budget_sec"`
}

// TurnCompletedPayload carries the appended turn record and the position the
// order advanced to.
type TurnCompletedPayload struct {
	Record        models.TurnRecord `json:"record"`
	NextTurnIndex int               `json:"next_turn_index"`
	RoundNumber   int               `json:"round_number"`
}

// TurnSkippedPayload is the skip/timeout counterpart of TurnCompletedPayload.
type TurnSkippedPayload struct {
	Record        models.TurnRecord `json:"record"`
	Reason        string            `json:"reason"`
	NextTurnIndex int               `json:"next_turn_index"`
	RoundNumber   int               `json:"round_number"`
}

// ChatMessagePayload carries a chat log entry with its server-assigned id.
type ChatMessagePayload struct {
	Message models.ChatMessage `json:"message"`
}

// InitiativeUpdatedPayload announces a DM-imposed reorder.
type InitiativeUpdatedPayload struct {
	InitiativeOrder  []models.InitiativeEntry `json:"initiative_order"`
	CurrentTurnIndex int                      `json:"current_turn_index"`
	RoundNumber      int                      `json:"round_number"`
}

// InteractionPausedPayload suspends the encounter. RemainingSec preserves the
// active turn's unused budget for resume.
type InteractionPausedPayload struct {
	Reason       string    `json:"reason"`
	PausedAt     time.Time `json:"paused_at"`
	RemainingSec int       `json:"remaining_sec"`
}

// InteractionResumedPayload restores the encounter; DeadlineAt is recomputed
// from the remaining budget, not a fresh one.
type InteractionResumedPayload struct {
	ResumedAt  time.Time `json:"resumed_at"`
	DeadlineAt time.Time `json:"deadline_at"`
}

// TurnRolledBackPayload replaces client mirrors wholesale. Rollback rewrites
// history, so incremental folding is not attempted; the authoritative
// snapshot wins.
type TurnRolledBackPayload struct {
	TargetTurnNumber  int               `json:"target_turn_number"`
	TargetRoundNumber int               `json:"target_round_number"`
	Snapshot          *models.GameState `json:"snapshot"`
}

// InteractionCompletedPayload closes the encounter.
type InteractionCompletedPayload struct {
	CompletedAt time.Time `json:"completed_at"`
	TotalTurns  int       `json:"total_turns"`
	Duration    string    `json:"duration"`
}

// ErrorPayload surfaces a per-subscriber failure on the event stream.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
