package command

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/interaction"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
)

// ActionResolver is the hook a rules engine plugs into. Given the current
// state and a validated action it returns the participant changes the action
// causes. The engine applies the changes (HP clamped) and records them in the
// turn history so rollback can replay them.
type ActionResolver interface {
	Resolve(st *models.GameState, action models.TurnAction) ([]models.ParticipantChange, error)
}

// NopResolver resolves every action to no participant changes. Movement is
// handled intrinsically by the processor regardless of resolver.
type NopResolver struct{}

func (NopResolver) Resolve(*models.GameState, models.TurnAction) ([]models.ParticipantChange, error) {
	return nil, nil
}

// Processor applies commands to game states. It is stateless; per-room
// serialization is the store's job.
type Processor struct {
	clock    clockwork.Clock
	resolver ActionResolver
}

// NewProcessor creates a processor. A nil resolver falls back to NopResolver.
func NewProcessor(clock clockwork.Clock, resolver ActionResolver) *Processor {
	if resolver == nil {
		resolver = NopResolver{}
	}
	return &Processor{clock: clock, resolver: resolver}
}

// Apply runs one command against st. baseline holds each participant's state
// as of joining; rollback replays retained history over it. On success the
// returned state is a new value and st is untouched; on error both returns
// are zero.
func (p *Processor) Apply(st *models.GameState, baseline map[uuid.UUID]models.ParticipantState, cmd Command) (*models.GameState, []events.GameEvent, error) {
	next := st.Clone()

	var evs []events.GameEvent
	var err error

	switch c := cmd.(type) {
	case Join:
		evs, err = p.applyJoin(next, c)
	case Leave:
		evs, err = p.applyLeave(next, c)
	case Start:
		evs, err = p.applyStart(next, c)
	case TakeTurn:
		evs, err = p.applyTakeTurn(next, c)
	case SkipTurn:
		evs, err = p.applySkipTurn(next, c)
	case SendChat:
		evs, err = p.applySendChat(next, c)
	case Pause:
		evs, err = p.applyPause(next, c)
	case Resume:
		evs, err = p.applyResume(next, c)
	case Rollback:
		evs, err = p.applyRollback(next, baseline, c)
	case UpdateInitiative:
		evs, err = p.applyUpdateInitiative(next, c)
	case Complete:
		evs, err = p.applyComplete(next, c)
	default:
		err = interaction.NewError(interaction.KindInvalidAction, "unsupported command %T", cmd)
	}
	if err != nil {
		return nil, nil, err
	}

	now := p.clock.Now()
	if now.After(next.LastModifiedAt) {
		next.LastModifiedAt = now
	}
	correlation := cmd.meta().Correlation
	for i := range evs {
		evs[i].Correlation = correlation
		evs[i].Timestamp = now
	}
	return next, evs, nil
}

func (p *Processor) applyJoin(st *models.GameState, c Join) ([]events.GameEvent, error) {
	if st.Status == models.InteractionStatusCompleted {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "room is completed")
	}
	entityID := c.Participant.EntityID
	if _, exists := st.Participants[entityID]; exists {
		return nil, interaction.NewError(interaction.KindInvalidAction, "entity %s already joined", entityID)
	}

	part := c.Participant
	part.SetHP(part.CurrentHP)
	part.TurnStatus = models.TurnStatusWaiting
	st.Participants[entityID] = part

	var activeEntity *uuid.UUID
	if active, ok := st.ActiveEntry(); ok && st.Status == models.InteractionStatusActive {
		id := active.EntityID
		activeEntity = &id
	}

	st.InitiativeOrder = append(st.InitiativeOrder, models.InitiativeEntry{
		EntityID:        entityID,
		EntityType:      part.EntityType,
		InitiativeScore: c.InitiativeScore,
		OwnerUserID:     part.OwnerUserID,
	})
	models.SortInitiative(st.InitiativeOrder)

	// Re-sorting may move the active entry; the active turn follows the
	// entity, not the index.
	if activeEntity != nil {
		st.CurrentTurnIndex = indexOf(st.InitiativeOrder, *activeEntity)
	}

	ev, err := events.New(st.RoomID, events.TypeParticipantJoined, events.ParticipantJoinedPayload{
		Participant:      part,
		InitiativeOrder:  st.InitiativeOrder,
		CurrentTurnIndex: st.CurrentTurnIndex,
		JoinedAt:         p.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{ev}, nil
}

func (p *Processor) applyLeave(st *models.GameState, c Leave) ([]events.GameEvent, error) {
	if _, exists := st.Participants[c.EntityID]; !exists {
		return nil, interaction.NewError(interaction.KindNotFound, "entity %s not in room", c.EntityID)
	}

	var evs []events.GameEvent

	wasActive := false
	if active, ok := st.ActiveEntry(); ok && active.EntityID == c.EntityID && st.Status == models.InteractionStatusActive {
		wasActive = true
	}

	// A leaving active participant forfeits their turn through the normal
	// skip path before removal, so history stays one record per turn.
	if wasActive {
		skipEvs, err := p.recordTurnEnd(st, c.EntityID, nil, nil, models.TurnOutcomeSkipped, "participant left")
		if err != nil {
			return nil, err
		}
		evs = append(evs, skipEvs...)
	}

	removed := indexOf(st.InitiativeOrder, c.EntityID)
	if removed >= 0 {
		st.InitiativeOrder = append(st.InitiativeOrder[:removed], st.InitiativeOrder[removed+1:]...)
		if removed < st.CurrentTurnIndex {
			st.CurrentTurnIndex--
		}
		if len(st.InitiativeOrder) > 0 {
			st.CurrentTurnIndex = st.CurrentTurnIndex % len(st.InitiativeOrder)
		} else {
			st.CurrentTurnIndex = 0
		}
	}
	delete(st.Participants, c.EntityID)

	// Last combatant gone: an active encounter cannot hold a turn, so it
	// falls back to Waiting until someone joins and the DM restarts.
	if len(st.InitiativeOrder) == 0 && st.Status == models.InteractionStatusActive {
		st.Status = models.InteractionStatusWaiting
		st.TurnDeadline = nil
		st.TurnStartedAt = nil
	}

	ev, err := events.New(st.RoomID, events.TypeParticipantLeft, events.ParticipantLeftPayload{
		EntityID:         c.EntityID,
		InitiativeOrder:  st.InitiativeOrder,
		CurrentTurnIndex: st.CurrentTurnIndex,
		RoundNumber:      st.RoundNumber,
		LeftAt:           p.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return append(evs, ev), nil
}

func (p *Processor) applyStart(st *models.GameState, c Start) ([]events.GameEvent, error) {
	if !c.IsDM && !c.System {
		return nil, interaction.NewError(interaction.KindForbidden, "only the DM can start the interaction")
	}
	if st.Status != models.InteractionStatusWaiting {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "cannot start from %s", st.Status)
	}
	if len(st.InitiativeOrder) == 0 {
		return nil, interaction.NewError(interaction.KindInvalidAction, "no participants have joined")
	}

	now := p.clock.Now()
	st.Status = models.InteractionStatusActive
	st.RoundNumber = 1
	st.CurrentTurnIndex = 0

	startedEv, err := events.New(st.RoomID, events.TypeInteractionStarted, events.InteractionStartedPayload{
		StartedAt:       now,
		InitiativeOrder: st.InitiativeOrder,
	})
	if err != nil {
		return nil, err
	}

	turnEv, err := p.activateTurn(st)
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{startedEv, turnEv}, nil
}

func (p *Processor) applyTakeTurn(st *models.GameState, c TakeTurn) ([]events.GameEvent, error) {
	active, err := p.requireActiveTurn(st, c.Meta, c.Action.ActorEntityID)
	if err != nil {
		return nil, err
	}

	part := st.Participants[active.EntityID]
	if !part.HasAction(c.Action.Kind) {
		return nil, interaction.NewError(interaction.KindInvalidAction, "action %s not available to %s", c.Action.Kind, active.EntityID)
	}
	if err := validateActionFields(c.Action); err != nil {
		return nil, err
	}

	changes, err := p.resolveChanges(st, c.Action)
	if err != nil {
		return nil, err
	}
	applyChanges(st, changes)

	return p.recordTurnEnd(st, active.EntityID, []models.TurnAction{c.Action}, changes, models.TurnOutcomeCompleted, "")
}

func (p *Processor) applySkipTurn(st *models.GameState, c SkipTurn) ([]events.GameEvent, error) {
	active, err := p.requireActiveTurn(st, c.Meta, c.EntityID)
	if err != nil {
		return nil, err
	}

	outcome := models.TurnOutcomeSkipped
	if c.Reason == SkipReasonTimeout {
		outcome = models.TurnOutcomeTimedOut
	}
	return p.recordTurnEnd(st, active.EntityID, nil, nil, outcome, c.Reason)
}

func (p *Processor) applySendChat(st *models.GameState, c SendChat) ([]events.GameEvent, error) {
	if st.Status == models.InteractionStatusCompleted {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "room is completed")
	}
	switch c.Channel {
	case models.ChatChannelParty, models.ChatChannelSystem:
	case models.ChatChannelPrivate:
		if len(c.Recipients) == 0 {
			return nil, interaction.NewError(interaction.KindInvalidAction, "private messages require recipients")
		}
	case models.ChatChannelDM:
		if !c.IsDM && !containsUser(c.Recipients, st.DMUserID) {
			return nil, interaction.NewError(interaction.KindInvalidAction, "DM channel requires the DM as sender or recipient")
		}
	default:
		return nil, interaction.NewError(interaction.KindInvalidAction, "unknown chat channel %q", c.Channel)
	}

	msg := models.ChatMessage{
		ID:           uuid.New().String(),
		SenderUserID: c.ActorUserID,
		EntityID:     c.EntityID,
		Content:      c.Content,
		Channel:      c.Channel,
		Recipients:   c.Recipients,
		Timestamp:    p.clock.Now(),
	}
	st.ChatLog = append(st.ChatLog, msg)
	if max := st.Settings.ChatRetention; max > 0 && len(st.ChatLog) > max {
		st.ChatLog = st.ChatLog[len(st.ChatLog)-max:]
	}

	ev, err := events.New(st.RoomID, events.TypeChatMessage, events.ChatMessagePayload{Message: msg})
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{ev}, nil
}

func (p *Processor) applyPause(st *models.GameState, c Pause) ([]events.GameEvent, error) {
	if st.Status != models.InteractionStatusActive {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "cannot pause from %s", st.Status)
	}

	now := p.clock.Now()
	remaining := time.Duration(0)
	if st.TurnDeadline != nil {
		remaining = st.TurnDeadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
	}
	st.Status = models.InteractionStatusPaused
	st.TurnRemaining = remaining
	st.TurnDeadline = nil

	ev, err := events.New(st.RoomID, events.TypeInteractionPaused, events.InteractionPausedPayload{
		Reason:       c.Reason,
		PausedAt:     now,
		RemainingSec: int(remaining.Seconds()),
	})
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{ev}, nil
}

func (p *Processor) applyResume(st *models.GameState, c Resume) ([]events.GameEvent, error) {
	if st.Status != models.InteractionStatusPaused {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "cannot resume from %s", st.Status)
	}

	now := p.clock.Now()
	deadline := now.Add(st.TurnRemaining)
	st.Status = models.InteractionStatusActive
	st.TurnDeadline = &deadline
	st.TurnRemaining = 0

	ev, err := events.New(st.RoomID, events.TypeInteractionResumed, events.InteractionResumedPayload{
		ResumedAt:  now,
		DeadlineAt: deadline,
	})
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{ev}, nil
}

func (p *Processor) applyRollback(st *models.GameState, baseline map[uuid.UUID]models.ParticipantState, c Rollback) ([]events.GameEvent, error) {
	if !c.IsDM {
		return nil, interaction.NewError(interaction.KindForbidden, "only the DM can roll back turns")
	}
	if st.Status != models.InteractionStatusActive && st.Status != models.InteractionStatusPaused {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "cannot roll back from %s", st.Status)
	}

	cut := -1
	for i, rec := range st.TurnHistory {
		if rec.TurnNumber == c.TurnNumber {
			if rec.RoundNumber != c.RoundNumber {
				return nil, interaction.NewError(interaction.KindNotFound, "turn %d is in round %d, not %d", c.TurnNumber, rec.RoundNumber, c.RoundNumber)
			}
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, interaction.NewError(interaction.KindNotFound, "no turn %d in history", c.TurnNumber)
	}

	st.TurnHistory = st.TurnHistory[:cut+1]

	// Restore participants by replaying the retained history over the join
	// baselines. Changes are absolute post-turn values, so folding a prefix
	// is exact.
	for id := range st.Participants {
		base, ok := baseline[id]
		if !ok {
			continue
		}
		restored := base
		restored.TurnStatus = models.TurnStatusWaiting
		st.Participants[id] = restored
	}
	for _, rec := range st.TurnHistory {
		applyChanges(st, rec.Changes)
	}

	n := len(st.InitiativeOrder)
	taken := len(st.TurnHistory)
	st.CurrentTurnIndex = taken % n
	st.RoundNumber = taken/n + 1

	// Turn statuses within the rewound round come from the retained records.
	for _, rec := range st.TurnHistory {
		if rec.RoundNumber != st.RoundNumber {
			continue
		}
		if part, ok := st.Participants[rec.ActorEntityID]; ok {
			if rec.Outcome == models.TurnOutcomeCompleted {
				part.TurnStatus = models.TurnStatusCompleted
			} else {
				part.TurnStatus = models.TurnStatusSkipped
			}
			st.Participants[rec.ActorEntityID] = part
		}
	}

	st.Status = models.InteractionStatusActive
	st.TurnRemaining = 0
	turnEv, err := p.activateTurn(st)
	if err != nil {
		return nil, err
	}

	rollbackEv, err := events.New(st.RoomID, events.TypeTurnRolledBack, events.TurnRolledBackPayload{
		TargetTurnNumber:  c.TurnNumber,
		TargetRoundNumber: c.RoundNumber,
		Snapshot:          st.Clone(),
	})
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{rollbackEv, turnEv}, nil
}

func (p *Processor) applyUpdateInitiative(st *models.GameState, c UpdateInitiative) ([]events.GameEvent, error) {
	if !c.IsDM {
		return nil, interaction.NewError(interaction.KindForbidden, "only the DM can update initiative")
	}
	if len(c.Order) == 0 {
		return nil, interaction.NewError(interaction.KindInvalidAction, "initiative order cannot be empty")
	}
	for _, entry := range c.Order {
		if _, ok := st.Participants[entry.EntityID]; !ok {
			return nil, interaction.NewError(interaction.KindNotFound, "entity %s not in room", entry.EntityID)
		}
	}

	order := make([]models.InitiativeEntry, len(c.Order))
	copy(order, c.Order)
	models.SortInitiative(order)

	st.InitiativeOrder = order
	st.CurrentTurnIndex = 0

	evs := make([]events.GameEvent, 0, 2)
	ev, err := events.New(st.RoomID, events.TypeInitiativeUpdated, events.InitiativeUpdatedPayload{
		InitiativeOrder:  st.InitiativeOrder,
		CurrentTurnIndex: st.CurrentTurnIndex,
		RoundNumber:      st.RoundNumber,
	})
	if err != nil {
		return nil, err
	}
	evs = append(evs, ev)

	switch st.Status {
	case models.InteractionStatusActive:
		for id, part := range st.Participants {
			part.TurnStatus = models.TurnStatusWaiting
			st.Participants[id] = part
		}
		turnEv, err := p.activateTurn(st)
		if err != nil {
			return nil, err
		}
		evs = append(evs, turnEv)
	case models.InteractionStatusPaused:
		// The suspended turn now belongs to the new leader. Clearing the old
		// holder here keeps the single-active-turn invariant across resume,
		// which re-arms the countdown without touching statuses.
		for id, part := range st.Participants {
			part.TurnStatus = models.TurnStatusWaiting
			st.Participants[id] = part
		}
		if entry, ok := st.ActiveEntry(); ok {
			part := st.Participants[entry.EntityID]
			part.TurnStatus = models.TurnStatusActive
			st.Participants[entry.EntityID] = part
		}
	}
	return evs, nil
}

func (p *Processor) applyComplete(st *models.GameState, c Complete) ([]events.GameEvent, error) {
	if !c.IsDM {
		return nil, interaction.NewError(interaction.KindForbidden, "only the DM can complete the interaction")
	}
	if st.Status != models.InteractionStatusActive && st.Status != models.InteractionStatusPaused {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "cannot complete from %s", st.Status)
	}

	now := p.clock.Now()
	st.Status = models.InteractionStatusCompleted
	st.TurnDeadline = nil
	st.TurnStartedAt = nil
	st.TurnRemaining = 0
	for id, part := range st.Participants {
		part.TurnStatus = models.TurnStatusWaiting
		st.Participants[id] = part
	}

	ev, err := events.New(st.RoomID, events.TypeInteractionCompleted, events.InteractionCompletedPayload{
		CompletedAt: now,
		TotalTurns:  len(st.TurnHistory),
		Duration:    now.Sub(st.CreatedAt).Round(time.Second).String(),
	})
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{ev}, nil
}

// requireActiveTurn checks that the room is active and that entityID holds
// the active turn, issued by its owner, the DM, or the scheduler.
func (p *Processor) requireActiveTurn(st *models.GameState, m Meta, entityID uuid.UUID) (models.InitiativeEntry, error) {
	if st.Status != models.InteractionStatusActive {
		return models.InitiativeEntry{}, interaction.NewError(interaction.KindInvalidTransition, "interaction is %s", st.Status)
	}
	active, ok := st.ActiveEntry()
	if !ok {
		return models.InitiativeEntry{}, interaction.NewError(interaction.KindInvalidTransition, "no active turn")
	}
	if active.EntityID != entityID {
		return models.InitiativeEntry{}, interaction.NewError(interaction.KindNotYourTurn, "active turn belongs to %s", active.EntityID)
	}
	if !m.IsDM && !m.System {
		if active.OwnerUserID == nil || *active.OwnerUserID != m.ActorUserID {
			return models.InitiativeEntry{}, interaction.NewError(interaction.KindNotYourTurn, "entity %s is not controlled by caller", entityID)
		}
	}
	return active, nil
}

// recordTurnEnd appends the turn record, advances the order, and emits the
// completion event followed by TurnStarted for the next participant.
func (p *Processor) recordTurnEnd(st *models.GameState, actor uuid.UUID, actions []models.TurnAction, changes []models.ParticipantChange, outcome models.TurnOutcome, reason string) ([]events.GameEvent, error) {
	now := p.clock.Now()
	startedAt := now
	if st.TurnStartedAt != nil {
		startedAt = *st.TurnStartedAt
	}

	record := models.TurnRecord{
		ActorEntityID: actor,
		TurnNumber:    len(st.TurnHistory) + 1,
		RoundNumber:   st.RoundNumber,
		Actions:       actions,
		Changes:       changes,
		StartedAt:     startedAt,
		EndedAt:       &now,
		Outcome:       outcome,
	}
	st.TurnHistory = append(st.TurnHistory, record)

	if part, ok := st.Participants[actor]; ok {
		if outcome == models.TurnOutcomeCompleted {
			part.TurnStatus = models.TurnStatusCompleted
		} else {
			part.TurnStatus = models.TurnStatusSkipped
		}
		st.Participants[actor] = part
	}

	st.CurrentTurnIndex++
	if st.CurrentTurnIndex >= len(st.InitiativeOrder) {
		st.CurrentTurnIndex = 0
		st.RoundNumber++
		for id, p := range st.Participants {
			p.TurnStatus = models.TurnStatusWaiting
			st.Participants[id] = p
		}
	}

	var endEv events.GameEvent
	var err error
	if outcome == models.TurnOutcomeCompleted {
		endEv, err = events.New(st.RoomID, events.TypeTurnCompleted, events.TurnCompletedPayload{
			Record:        record,
			NextTurnIndex: st.CurrentTurnIndex,
			RoundNumber:   st.RoundNumber,
		})
	} else {
		endEv, err = events.New(st.RoomID, events.TypeTurnSkipped, events.TurnSkippedPayload{
			Record:        record,
			Reason:        reason,
			NextTurnIndex: st.CurrentTurnIndex,
			RoundNumber:   st.RoundNumber,
		})
	}
	if err != nil {
		return nil, err
	}

	turnEv, err := p.activateTurn(st)
	if err != nil {
		return nil, err
	}
	return []events.GameEvent{endEv, turnEv}, nil
}

// activateTurn marks the participant at CurrentTurnIndex active and arms the
// turn deadline from the room's budget.
func (p *Processor) activateTurn(st *models.GameState) (events.GameEvent, error) {
	active, ok := st.ActiveEntry()
	if !ok {
		return events.GameEvent{}, interaction.NewError(interaction.KindInvalidTransition, "initiative order is empty")
	}

	if part, exists := st.Participants[active.EntityID]; exists {
		part.TurnStatus = models.TurnStatusActive
		st.Participants[active.EntityID] = part
	}

	now := p.clock.Now()
	budget := time.Duration(st.Settings.TurnBudgetSec) * time.Second
	deadline := now.Add(budget)
	st.TurnStartedAt = &now
	st.TurnDeadline = &deadline

	return events.New(st.RoomID, events.TypeTurnStarted, events.TurnStartedPayload{
		EntityID:      active.EntityID,
		TurnIndex:     st.CurrentTurnIndex,
		RoundNumber:   st.RoundNumber,
		StartedAt:     now,
		DeadlineAt:    deadline,
		TurnBudgetSec: st.Settings.TurnBudgetSec,
	})
}

// resolveChanges merges intrinsic movement with whatever the plugged-in rules
// engine returns.
func (p *Processor) resolveChanges(st *models.GameState, action models.TurnAction) ([]models.ParticipantChange, error) {
	var changes []models.ParticipantChange
	if action.Kind == models.ActionKindMove && action.Position != nil {
		pos := *action.Position
		changes = append(changes, models.ParticipantChange{
			EntityID: action.ActorEntityID,
			Position: &pos,
		})
	}

	resolved, err := p.resolver.Resolve(st, action)
	if err != nil {
		return nil, interaction.NewError(interaction.KindInvalidAction, "resolve %s: %v", action.Kind, err)
	}
	return append(changes, resolved...), nil
}

func validateActionFields(action models.TurnAction) error {
	missing := func(field string) error {
		return interaction.NewError(interaction.KindInvalidAction, "%s requires a %s", action.Kind, field)
	}
	switch action.Kind {
	case models.ActionKindMove:
		if action.Position == nil {
			return missing("position")
		}
	case models.ActionKindAttack, models.ActionKindCast, models.ActionKindInteract:
		if action.TargetID == nil {
			return missing("target")
		}
	case models.ActionKindUseItem:
		if action.ItemRef == "" {
			return missing("item reference")
		}
	case models.ActionKindEnd:
	default:
		return interaction.NewError(interaction.KindInvalidAction, "unknown action kind %q", action.Kind)
	}
	return nil
}

// applyChanges folds absolute participant changes into the state, clamping HP.
func applyChanges(st *models.GameState, changes []models.ParticipantChange) {
	for _, ch := range changes {
		part, ok := st.Participants[ch.EntityID]
		if !ok {
			continue
		}
		if ch.HP != nil {
			part.SetHP(*ch.HP)
		}
		if ch.Position != nil {
			part.Position = *ch.Position
		}
		if ch.SetConds {
			part.ActiveConditions = append([]models.StatusEffect(nil), ch.Conditions...)
		}
		st.Participants[ch.EntityID] = part
	}
}

func indexOf(order []models.InitiativeEntry, entityID uuid.UUID) int {
	for i, e := range order {
		if e.EntityID == entityID {
			return i
		}
	}
	return -1
}

func containsUser(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
