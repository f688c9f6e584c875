// Package broadcaster fans room events out to subscribers. The room store
// publishes through the Publisher interface; deployments pick the in-memory
// fan-out (single process) or NATS JetStream (multi process), or chain both.
package broadcaster

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/rs/zerolog/log"
)

// Publisher publishes one room event. Delivery is at-least-once; envelope
// sequence numbers let subscribers detect gaps.
type Publisher interface {
	Publish(ctx context.Context, ev events.GameEvent) error
}

// Subscription is a live event feed for one room (or all rooms).
type Subscription struct {
	C      <-chan events.GameEvent
	cancel func()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

const subscriberBuffer = 64

// Memory is an in-process fan-out. Slow subscribers have events dropped
// rather than stalling the room; droppees recover through journal replay.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[uuid.UUID]map[int]chan events.GameEvent
	all    map[int]chan events.GameEvent
}

// NewMemory creates an in-memory broadcaster.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[uuid.UUID]map[int]chan events.GameEvent),
		all:  make(map[int]chan events.GameEvent),
	}
}

// Publish delivers ev to every subscriber of its room plus all-room
// subscribers. Never returns an error.
func (m *Memory) Publish(_ context.Context, ev events.GameEvent) error {
	roomID, err := uuid.Parse(ev.RoomID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	targets := make([]chan events.GameEvent, 0, len(m.all)+len(m.subs[roomID]))
	for _, ch := range m.subs[roomID] {
		targets = append(targets, ch)
	}
	for _, ch := range m.all {
		targets = append(targets, ch)
	}
	m.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Str("room_id", ev.RoomID).
				Str("event_type", string(ev.Type)).
				Uint64("seq", ev.Seq).
				Msg("subscriber buffer full, dropping event")
		}
	}
	return nil
}

// Subscribe attaches to one room's event feed.
func (m *Memory) Subscribe(roomID uuid.UUID) *Subscription {
	ch := make(chan events.GameEvent, subscriberBuffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.subs[roomID] == nil {
		m.subs[roomID] = make(map[int]chan events.GameEvent)
	}
	m.subs[roomID][id] = ch
	m.mu.Unlock()

	var once sync.Once
	return &Subscription{
		C: ch,
		cancel: func() {
			once.Do(func() {
				m.mu.Lock()
				delete(m.subs[roomID], id)
				if len(m.subs[roomID]) == 0 {
					delete(m.subs, roomID)
				}
				m.mu.Unlock()
			})
		},
	}
}

// SubscribeAll attaches to every room's feed. Used by the scheduler and the
// gateway's in-process consumer.
func (m *Memory) SubscribeAll() *Subscription {
	ch := make(chan events.GameEvent, subscriberBuffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.all[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return &Subscription{
		C: ch,
		cancel: func() {
			once.Do(func() {
				m.mu.Lock()
				delete(m.all, id)
				m.mu.Unlock()
			})
		},
	}
}

// Tee publishes to several publishers in order, returning the first error
// after attempting all. Used to drive the in-process scheduler and a NATS
// stream from one store.
type Tee []Publisher

func (t Tee) Publish(ctx context.Context, ev events.GameEvent) error {
	var firstErr error
	for _, p := range t {
		if err := p.Publish(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
