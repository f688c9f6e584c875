// Package scheduler enforces per-turn time budgets. It consumes the same
// event stream clients see, tracks one deadline per room, and when a deadline
// expires it submits a timeout skip through the command processor exactly
// like a manually issued command. Timeouts are never special-cased at the
// state-mutation layer: if a player's action wins the race, the skip loses
// with NotYourTurn and that is not an error.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/interaction"
	"github.com/mcdev12/tabletop/go/internal/interaction/command"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Submitter is what the scheduler needs from the room store.
type Submitter interface {
	Apply(ctx context.Context, roomID uuid.UUID, cmd command.Command) (*models.GameState, []events.GameEvent, error)
}

// deadline tracks the active turn of one room. A suspended entry belongs to
// a paused room: the entity keeps the turn but no timeout is armed.
type deadline struct {
	entityID  uuid.UUID
	at        time.Time
	suspended bool
}

const idlePollDuration = 5 * time.Second

// Scheduler runs the timeout loop for all rooms.
type Scheduler struct {
	submitter  Submitter
	clock      clockwork.Clock
	numWorkers int
	workCh     chan timeoutJob
	instanceID string

	// deadlines is owned by the Run goroutine; no lock needed.
	deadlines map[uuid.UUID]deadline

	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

type timeoutJob struct {
	roomID   uuid.UUID
	entityID uuid.UUID
}

// New creates a scheduler.
func New(submitter Submitter, clock clockwork.Clock) *Scheduler {
	numWorkers := 4
	return &Scheduler{
		submitter:  submitter,
		clock:      clock,
		numWorkers: numWorkers,
		workCh:     make(chan timeoutJob, numWorkers*2),
		instanceID: uuid.New().String()[:8],
		deadlines:  make(map[uuid.UUID]deadline),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Run consumes room events from eventCh and fires timeouts until ctx is
// cancelled. Only one countdown is live per room at a time; every turn change
// replaces the previous deadline.
func (s *Scheduler) Run(ctx context.Context, eventCh <-chan events.GameEvent) error {
	log.Info().Str("instance", s.instanceID).Int("workers", s.numWorkers).Msg("turn scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer func() {
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("turn scheduler stopped")
	}()

	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	timer := s.clock.NewTimer(idlePollDuration)
	defer timer.Stop()

	for {
		wait := s.nextWait()
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-eventCh:
			if !ok {
				return nil
			}
			s.handleEvent(ev)
		case <-timer.Chan():
			s.dispatchDue(ctx)
		}
	}
}

// nextWait returns the time until the earliest armed deadline, or the idle
// poll interval when none is armed.
func (s *Scheduler) nextWait() time.Duration {
	now := s.clock.Now()
	wait := idlePollDuration
	for _, d := range s.deadlines {
		if d.suspended {
			continue
		}
		if w := d.at.Sub(now); w < wait {
			wait = w
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// handleEvent folds one room event into the deadline table.
func (s *Scheduler) handleEvent(ev events.GameEvent) {
	roomID, err := uuid.Parse(ev.RoomID)
	if err != nil {
		log.Warn().Str("room_id", ev.RoomID).Msg("event with malformed room id")
		return
	}

	payload, err := events.ParsePayload(&ev)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("failed to parse event payload")
		return
	}

	switch p := payload.(type) {
	case *events.TurnStartedPayload:
		s.deadlines[roomID] = deadline{entityID: p.EntityID, at: p.DeadlineAt}
	case *events.InteractionPausedPayload:
		if d, ok := s.deadlines[roomID]; ok {
			d.suspended = true
			s.deadlines[roomID] = d
		}
	case *events.InteractionResumedPayload:
		if d, ok := s.deadlines[roomID]; ok {
			d.suspended = false
			d.at = p.DeadlineAt
			s.deadlines[roomID] = d
		}
	case *events.InteractionCompletedPayload:
		delete(s.deadlines, roomID)
	case *events.ParticipantLeftPayload:
		if len(p.InitiativeOrder) == 0 {
			delete(s.deadlines, roomID)
		}
	}
}

// dispatchDue queues a timeout skip for every room whose deadline passed.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.clock.Now()
	for roomID, d := range s.deadlines {
		if d.suspended || d.at.After(now) {
			continue
		}

		s.inFlightMu.Lock()
		if s.inFlight[roomID] {
			s.inFlightMu.Unlock()
			continue
		}
		s.inFlight[roomID] = true
		s.inFlightMu.Unlock()

		select {
		case <-ctx.Done():
			s.clearInFlight(roomID)
			return
		case s.workCh <- timeoutJob{roomID: roomID, entityID: d.entityID}:
			// Disarm until the resulting TurnStarted re-arms it.
			d.suspended = true
			s.deadlines[roomID] = d
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.workCh:
			if !ok {
				return
			}
			s.handleTimeout(ctx, job)
			s.clearInFlight(job.roomID)
		}
	}
}

func (s *Scheduler) handleTimeout(ctx context.Context, job timeoutJob) {
	log.Info().
		Str("room_id", job.roomID.String()).
		Str("entity_id", job.entityID.String()).
		Str("instance", s.instanceID).
		Msg("turn timeout firing")

	_, _, err := s.submitter.Apply(ctx, job.roomID, command.SkipTurn{
		Meta:     command.Meta{System: true},
		EntityID: job.entityID,
		Reason:   command.SkipReasonTimeout,
	})
	if err == nil {
		return
	}

	// Losing the race against a manual command is expected: the turn already
	// advanced, so the authoritative state rejected the stale skip.
	if interaction.IsKind(err, interaction.KindNotYourTurn) || interaction.IsKind(err, interaction.KindInvalidTransition) {
		log.Debug().
			Str("room_id", job.roomID.String()).
			Str("entity_id", job.entityID.String()).
			Msg("timeout lost race to a manual command")
		return
	}
	log.Error().Err(err).Str("room_id", job.roomID.String()).Msg("timeout skip failed")
}

func (s *Scheduler) clearInFlight(roomID uuid.UUID) {
	s.inFlightMu.Lock()
	delete(s.inFlight, roomID)
	s.inFlightMu.Unlock()
}
