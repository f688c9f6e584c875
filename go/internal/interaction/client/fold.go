package client

import (
	"context"
	"time"

	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
	"github.com/rs/zerolog/log"
)

// handleEvent runs on the event loop. It deduplicates by sequence number,
// detects gaps, retires any in-flight mutation the event confirms, and folds
// the payload into the confirmed state.
func (s *Session) handleEvent(ctx context.Context, ev events.GameEvent) {
	if ev.Seq != 0 && ev.Seq <= s.lastSeq {
		return
	}
	if ev.Seq > s.lastSeq+1 {
		log.Warn().
			Uint64("have", s.lastSeq).
			Uint64("got", ev.Seq).
			Str("room_id", s.cfg.RoomID.String()).
			Msg("event gap detected, requesting replay")
		s.recover(ctx)
		return
	}

	// An event carrying one of our correlation ids is the authoritative form
	// of a mutation we applied optimistically. Retire the optimistic copy
	// before folding so the effect is never present twice.
	if ev.Correlation != "" && s.findPending(ev.Correlation) {
		s.dropPending(ev.Correlation)
	}

	if err := s.fold(ev); err != nil {
		log.Warn().Err(err).Str("type", string(ev.Type)).Msg("cannot fold event, resyncing")
		s.recover(ctx)
		return
	}
	if ev.Seq > s.lastSeq {
		s.lastSeq = ev.Seq
		s.confirmed.LastEventSeq = ev.Seq
	}
	s.recompute()
}

// recover fetches the missed suffix of the journal, or a full snapshot if the
// journal no longer reaches back far enough. The fetch happens off the loop;
// folding is queued back onto it and awaited before deciding whether the
// replay sufficed.
func (s *Session) recover(ctx context.Context) {
	after := s.lastSeq
	go func() {
		evs, complete, err := s.fetchEventsSince(ctx, after)
		if err == nil && complete {
			folded := make(chan error, 1)
			s.run(func() {
				folded <- s.foldReplay(evs)
			})
			select {
			case err = <-folded:
				if err == nil {
					return
				}
				log.Warn().Err(err).Msg("replayed event would not fold, resyncing")
			case <-s.closed:
				return
			}
		}

		// Journal truncated or replay failed: full resync.
		st, serr := s.fetchState(ctx)
		if serr != nil {
			log.Warn().Err(serr).Msg("full resync failed")
			return
		}
		s.run(func() {
			s.confirmed = st
			if st.LastEventSeq > s.lastSeq {
				s.lastSeq = st.LastEventSeq
			}
			s.recompute()
		})
	}()
}

// foldReplay folds a fetched journal suffix on the event loop, stopping at the
// first event that will not fold.
func (s *Session) foldReplay(evs []events.GameEvent) error {
	for _, ev := range evs {
		if ev.Seq <= s.lastSeq {
			continue
		}
		if ev.Correlation != "" {
			s.dropPending(ev.Correlation)
		}
		if err := s.fold(ev); err != nil {
			return err
		}
		s.lastSeq = ev.Seq
		s.confirmed.LastEventSeq = ev.Seq
	}
	s.recompute()
	return nil
}

// fold applies one event's payload to the confirmed state, mirroring the
// server-side transition it describes.
func (s *Session) fold(ev events.GameEvent) error {
	payload, err := events.ParsePayload(&ev)
	if err != nil {
		return err
	}
	st := s.confirmed

	switch p := payload.(type) {
	case *events.ParticipantJoinedPayload:
		st.Participants[p.Participant.EntityID] = p.Participant
		st.InitiativeOrder = p.InitiativeOrder
		st.CurrentTurnIndex = p.CurrentTurnIndex

	case *events.ParticipantLeftPayload:
		delete(st.Participants, p.EntityID)
		st.InitiativeOrder = p.InitiativeOrder
		st.CurrentTurnIndex = p.CurrentTurnIndex
		st.RoundNumber = p.RoundNumber
		if len(st.InitiativeOrder) == 0 && st.Status == models.InteractionStatusActive {
			st.Status = models.InteractionStatusWaiting
			st.TurnDeadline = nil
			st.TurnStartedAt = nil
		}

	case *events.InteractionStartedPayload:
		st.Status = models.InteractionStatusActive
		st.InitiativeOrder = p.InitiativeOrder
		st.CurrentTurnIndex = 0
		st.RoundNumber = 1

	case *events.TurnStartedPayload:
		if p.RoundNumber > st.RoundNumber {
			for id, part := range st.Participants {
				part.TurnStatus = models.TurnStatusWaiting
				st.Participants[id] = part
			}
		}
		st.CurrentTurnIndex = p.TurnIndex
		st.RoundNumber = p.RoundNumber
		started, deadline := p.StartedAt, p.DeadlineAt
		st.TurnStartedAt = &started
		st.TurnDeadline = &deadline
		if part, ok := st.Participants[p.EntityID]; ok {
			part.TurnStatus = models.TurnStatusActive
			st.Participants[p.EntityID] = part
		}

	case *events.TurnCompletedPayload:
		s.foldTurnEnd(st, p.Record, p.NextTurnIndex, p.RoundNumber, models.TurnStatusCompleted)

	case *events.TurnSkippedPayload:
		s.foldTurnEnd(st, p.Record, p.NextTurnIndex, p.RoundNumber, models.TurnStatusSkipped)

	case *events.ChatMessagePayload:
		for _, m := range st.ChatLog {
			if m.ID == p.Message.ID {
				return nil
			}
		}
		st.ChatLog = append(st.ChatLog, p.Message)
		if st.Settings.ChatRetention > 0 && len(st.ChatLog) > st.Settings.ChatRetention {
			st.ChatLog = st.ChatLog[len(st.ChatLog)-st.Settings.ChatRetention:]
		}

	case *events.InitiativeUpdatedPayload:
		st.InitiativeOrder = p.InitiativeOrder
		st.CurrentTurnIndex = p.CurrentTurnIndex
		st.RoundNumber = p.RoundNumber
		if st.Status == models.InteractionStatusActive || st.Status == models.InteractionStatusPaused {
			for id, part := range st.Participants {
				part.TurnStatus = models.TurnStatusWaiting
				st.Participants[id] = part
			}
			if entry, ok := st.ActiveEntry(); ok {
				if part, found := st.Participants[entry.EntityID]; found {
					part.TurnStatus = models.TurnStatusActive
					st.Participants[entry.EntityID] = part
				}
			}
		}

	case *events.InteractionPausedPayload:
		st.Status = models.InteractionStatusPaused
		st.TurnRemaining = time.Duration(p.RemainingSec) * time.Second
		st.TurnDeadline = nil

	case *events.InteractionResumedPayload:
		st.Status = models.InteractionStatusActive
		deadline := p.DeadlineAt
		st.TurnDeadline = &deadline
		st.TurnRemaining = 0

	case *events.TurnRolledBackPayload:
		// Rollback rewrites history; adopt the snapshot wholesale.
		if p.Snapshot != nil {
			s.confirmed = p.Snapshot
		}

	case *events.InteractionCompletedPayload:
		st.Status = models.InteractionStatusCompleted
		st.TurnDeadline = nil
		st.TurnStartedAt = nil

	case *events.ErrorPayload:
		log.Warn().Str("kind", p.Kind).Str("message", p.Message).Msg("server reported stream error")
	}
	return nil
}

// foldTurnEnd appends the record, applies its changes, and advances the
// order the same way the server did.
func (s *Session) foldTurnEnd(st *models.GameState, record models.TurnRecord, nextIndex, round int, status models.TurnStatus) {
	for _, r := range st.TurnHistory {
		if r.TurnNumber == record.TurnNumber {
			return
		}
	}
	st.TurnHistory = append(st.TurnHistory, record)

	for _, change := range record.Changes {
		part, ok := st.Participants[change.EntityID]
		if !ok {
			continue
		}
		if change.HP != nil {
			part.SetHP(*change.HP)
		}
		if change.Position != nil {
			part.Position = *change.Position
		}
		if change.SetConds {
			part.ActiveConditions = append([]models.StatusEffect(nil), change.Conditions...)
		}
		st.Participants[change.EntityID] = part
	}

	if part, ok := st.Participants[record.ActorEntityID]; ok {
		part.TurnStatus = status
		st.Participants[record.ActorEntityID] = part
	}
	st.CurrentTurnIndex = nextIndex
	st.RoundNumber = round
}
