package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies what a participant does with their turn.
type ActionKind string

const (
	ActionKindMove     ActionKind = "MOVE"
	ActionKindAttack   ActionKind = "ATTACK"
	ActionKindUseItem  ActionKind = "USE_ITEM"
	ActionKindCast     ActionKind = "CAST"
	ActionKindInteract ActionKind = "INTERACT"
	ActionKindEnd      ActionKind = "END"
)

// TurnAction is a single action submitted for the active participant's turn.
type TurnAction struct {
	Kind          ActionKind             `json:"kind"`
	ActorEntityID uuid.UUID              `json:"actor_entity_id"`
	TargetID      *uuid.UUID             `json:"target_id,omitempty"`
	Position      *Position              `json:"position,omitempty"`
	ItemRef       string                 `json:"item_ref,omitempty"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
}

// TurnOutcome records how a turn ended.
type TurnOutcome string

const (
	TurnOutcomeCompleted TurnOutcome = "COMPLETED"
	TurnOutcomeSkipped   TurnOutcome = "SKIPPED"
	TurnOutcomeTimedOut  TurnOutcome = "TIMED_OUT"
)

// ParticipantChange captures the post-turn values a turn imposed on one
// participant. Nil fields were untouched. Changes are absolute, not deltas,
// so folding a history prefix over a baseline reproduces the exact state
// regardless of where replay starts.
type ParticipantChange struct {
	EntityID   uuid.UUID      `json:"entity_id"`
	HP         *int           `json:"hp,omitempty"`
	Position   *Position      `json:"position,omitempty"`
	Conditions []StatusEffect `json:"conditions,omitempty"`
	SetConds   bool           `json:"set_conds,omitempty"`
}

// TurnRecord is one immutable entry of the turn history. Records are never
// mutated once appended.
type TurnRecord struct {
	ActorEntityID uuid.UUID           `json:"actor_entity_id"`
	TurnNumber    int                 `json:"turn_number"`
	RoundNumber   int                 `json:"round_number"`
	Actions       []TurnAction        `json:"actions"`
	Changes       []ParticipantChange `json:"changes,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	EndedAt       *time.Time          `json:"ended_at,omitempty"`
	Outcome       TurnOutcome         `json:"outcome"`
}

func (r TurnRecord) clone() TurnRecord {
	out := r
	out.Actions = make([]TurnAction, len(r.Actions))
	for i, a := range r.Actions {
		out.Actions[i] = a.clone()
	}
	out.Changes = make([]ParticipantChange, len(r.Changes))
	for i, c := range r.Changes {
		out.Changes[i] = c.clone()
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return out
}

func (a TurnAction) clone() TurnAction {
	out := a
	if a.TargetID != nil {
		id := *a.TargetID
		out.TargetID = &id
	}
	if a.Position != nil {
		p := *a.Position
		out.Position = &p
	}
	if a.Parameters != nil {
		out.Parameters = make(map[string]interface{}, len(a.Parameters))
		for k, v := range a.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

func (c ParticipantChange) clone() ParticipantChange {
	out := c
	if c.HP != nil {
		hp := *c.HP
		out.HP = &hp
	}
	if c.Position != nil {
		p := *c.Position
		out.Position = &p
	}
	out.Conditions = append([]StatusEffect(nil), c.Conditions...)
	return out
}
