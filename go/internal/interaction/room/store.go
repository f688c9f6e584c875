// Package room is the authoritative home of live interaction state. One
// logical writer per room: all mutation funnels through Apply, which
// serializes commands on a per-room lock while independent rooms proceed in
// parallel.
package room

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/interaction"
	"github.com/mcdev12/tabletop/go/internal/interaction/command"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Publisher fans successful command events out to room subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev events.GameEvent) error
}

// Archiver persists a completed interaction. Storage format is its concern,
// not ours.
type Archiver interface {
	ArchiveInteraction(ctx context.Context, st *models.GameState) error
}

// DefaultTurnBudgetSec is the per-turn countdown applied when a room's
// settings leave it unset.
const DefaultTurnBudgetSec = 90

const defaultJournalSize = 256

// Store owns every live room.
type Store struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*roomEntry

	processor *command.Processor
	publisher Publisher
	archiver  Archiver
	clock     clockwork.Clock
	defaults  models.InteractionSettings
}

type roomEntry struct {
	mu       sync.Mutex
	state    *models.GameState
	baseline map[uuid.UUID]models.ParticipantState
	seq      uint64
	journal  *journal
}

// NewStore creates a store. archiver may be nil when no persistence backend
// is configured.
func NewStore(processor *command.Processor, publisher Publisher, archiver Archiver, clock clockwork.Clock, defaults models.InteractionSettings) *Store {
	if defaults.TurnBudgetSec <= 0 {
		defaults.TurnBudgetSec = DefaultTurnBudgetSec
	}
	if defaults.EventJournalSize <= 0 {
		defaults.EventJournalSize = defaultJournalSize
	}
	return &Store{
		rooms:     make(map[uuid.UUID]*roomEntry),
		processor: processor,
		publisher: publisher,
		archiver:  archiver,
		clock:     clock,
		defaults:  defaults,
	}
}

// CreateRoom registers a new waiting interaction owned by dmUserID.
func (s *Store) CreateRoom(ctx context.Context, roomID, dmUserID uuid.UUID, settings *models.InteractionSettings) (*models.GameState, error) {
	cfg := s.defaults
	if settings != nil {
		if settings.TurnBudgetSec > 0 {
			cfg.TurnBudgetSec = settings.TurnBudgetSec
		}
		if settings.ChatRetention > 0 {
			cfg.ChatRetention = settings.ChatRetention
		}
		if settings.EventJournalSize > 0 {
			cfg.EventJournalSize = settings.EventJournalSize
		}
	}

	now := s.clock.Now()
	st := &models.GameState{
		RoomID:          roomID,
		Status:          models.InteractionStatusWaiting,
		DMUserID:        dmUserID,
		Settings:        cfg,
		InitiativeOrder: []models.InitiativeEntry{},
		RoundNumber:     1,
		Participants:    map[uuid.UUID]models.ParticipantState{},
		TurnHistory:     []models.TurnRecord{},
		ChatLog:         []models.ChatMessage{},
		CreatedAt:       now,
		LastModifiedAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[roomID]; exists {
		return nil, interaction.NewError(interaction.KindInvalidTransition, "room %s already exists", roomID)
	}
	s.rooms[roomID] = &roomEntry{
		state:    st,
		baseline: make(map[uuid.UUID]models.ParticipantState),
		journal:  newJournal(cfg.EventJournalSize),
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("dm_user_id", dmUserID.String()).
		Int("turn_budget_sec", cfg.TurnBudgetSec).
		Msg("room created")
	return st.Clone(), nil
}

// Apply validates and applies one command against the room, publishing the
// resulting events with per-room sequence numbers. The returned snapshot is
// the new authoritative state. On error the room is unchanged.
func (s *Store) Apply(ctx context.Context, roomID uuid.UUID, cmd command.Command) (*models.GameState, []events.GameEvent, error) {
	entry, err := s.room(roomID)
	if err != nil {
		return nil, nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next, evs, err := s.processor.Apply(entry.state, entry.baseline, cmd)
	if err != nil {
		return nil, nil, err
	}

	for i := range evs {
		entry.seq++
		evs[i].Seq = entry.seq
	}
	next.LastEventSeq = entry.seq

	wasCompleted := entry.state.Status == models.InteractionStatusCompleted
	entry.state = next
	s.trackBaseline(entry, cmd, next)
	for _, ev := range evs {
		entry.journal.append(ev)
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, ev); err != nil {
				// Delivery is at-least-once, not exactly-once; subscribers
				// detect the seq gap and replay from the journal.
				log.Warn().
					Err(err).
					Str("room_id", roomID.String()).
					Str("event_type", string(ev.Type)).
					Uint64("seq", ev.Seq).
					Msg("failed to publish event")
			}
		}
	}

	if !wasCompleted && next.Status == models.InteractionStatusCompleted && s.archiver != nil {
		if err := s.archiver.ArchiveInteraction(ctx, next.Clone()); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to archive completed interaction")
		}
	}

	return next.Clone(), evs, nil
}

// Snapshot returns a deep copy of the room's current state.
func (s *Store) Snapshot(ctx context.Context, roomID uuid.UUID) (*models.GameState, error) {
	entry, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Clone(), nil
}

// EventsSince returns the journaled events with sequence numbers greater
// than after. complete is false when the journal no longer covers that range;
// the caller should fall back to a full resync.
func (s *Store) EventsSince(roomID uuid.UUID, after uint64) (evs []events.GameEvent, complete bool, err error) {
	entry, err := s.room(roomID)
	if err != nil {
		return nil, false, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	evs, complete = entry.journal.since(after)
	return evs, complete, nil
}

// RoomIDs lists all registered rooms.
func (s *Store) RoomIDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (s *Store) room(roomID uuid.UUID) (*roomEntry, error) {
	s.mu.RLock()
	entry, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, interaction.NewError(interaction.KindNotFound, "room %s not found", roomID)
	}
	return entry, nil
}

// trackBaseline keeps the per-participant join snapshots rollback replays
// over.
func (s *Store) trackBaseline(entry *roomEntry, cmd command.Command, st *models.GameState) {
	switch c := cmd.(type) {
	case command.Join:
		if part, ok := st.Participants[c.Participant.EntityID]; ok {
			entry.baseline[c.Participant.EntityID] = part
		}
	case command.Leave:
		delete(entry.baseline, c.EntityID)
	}
}
