package models

import (
	"sort"

	"github.com/google/uuid"
)

// EntityType identifies what kind of combatant an entity is.
type EntityType string

const (
	EntityTypePlayerCharacter EntityType = "PLAYER_CHARACTER"
	EntityTypeNPC             EntityType = "NPC"
	EntityTypeMonster         EntityType = "MONSTER"
)

// TurnStatus defines where a participant is within the current round.
type TurnStatus string

const (
	TurnStatusWaiting   TurnStatus = "WAITING"
	TurnStatusActive    TurnStatus = "ACTIVE"
	TurnStatusCompleted TurnStatus = "COMPLETED"
	TurnStatusSkipped   TurnStatus = "SKIPPED"
)

// StatusEffect is a named condition applied to a participant (e.g. "prone",
// "poisoned"). The engine carries these opaquely; rules content defines them.
type StatusEffect string

// Position is a grid coordinate on the encounter map.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// InitiativeEntry fixes one combatant's place in the turn order.
// OwnerUserID is nil for DM-controlled entities (NPCs, monsters).
type InitiativeEntry struct {
	EntityID        uuid.UUID  `json:"entity_id"`
	EntityType      EntityType `json:"entity_type"`
	InitiativeScore int        `json:"initiative_score"`
	OwnerUserID     *uuid.UUID `json:"owner_user_id,omitempty"`
}

// SortInitiative orders entries by descending score. Ties keep their original
// relative order so every client reproduces the same sequence.
func SortInitiative(entries []InitiativeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].InitiativeScore > entries[j].InitiativeScore
	})
}

// ParticipantState is the mutable per-combatant state inside a GameState.
type ParticipantState struct {
	EntityID         uuid.UUID      `json:"entity_id"`
	EntityType       EntityType     `json:"entity_type"`
	OwnerUserID      *uuid.UUID     `json:"owner_user_id,omitempty"`
	CurrentHP        int            `json:"current_hp"`
	MaxHP            int            `json:"max_hp"`
	Position         Position       `json:"position"`
	ActiveConditions []StatusEffect `json:"active_conditions,omitempty"`
	Inventory        []string       `json:"inventory,omitempty"`
	AvailableActions []ActionKind   `json:"available_actions"`
	TurnStatus       TurnStatus     `json:"turn_status"`
}

// SetHP assigns hit points clamped to [0, MaxHP].
func (p *ParticipantState) SetHP(hp int) {
	if hp < 0 {
		hp = 0
	}
	if hp > p.MaxHP {
		hp = p.MaxHP
	}
	p.CurrentHP = hp
}

// HasAction reports whether the participant may perform the given action kind.
func (p *ParticipantState) HasAction(kind ActionKind) bool {
	for _, k := range p.AvailableActions {
		if k == kind {
			return true
		}
	}
	return false
}

// HasCondition reports whether the effect is currently active.
func (p *ParticipantState) HasCondition(effect StatusEffect) bool {
	for _, c := range p.ActiveConditions {
		if c == effect {
			return true
		}
	}
	return false
}

func (p ParticipantState) clone() ParticipantState {
	out := p
	if p.OwnerUserID != nil {
		id := *p.OwnerUserID
		out.OwnerUserID = &id
	}
	out.ActiveConditions = append([]StatusEffect(nil), p.ActiveConditions...)
	out.Inventory = append([]string(nil), p.Inventory...)
	out.AvailableActions = append([]ActionKind(nil), p.AvailableActions...)
	return out
}
