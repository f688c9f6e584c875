package broadcaster

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
)

func roomEvent(t *testing.T, roomID uuid.UUID, seq uint64) events.GameEvent {
	t.Helper()
	ev, err := events.New(roomID, events.TypeChatMessage, events.ChatMessagePayload{})
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = seq
	return ev
}

func TestMemoryRoomScopedDelivery(t *testing.T) {
	m := NewMemory()
	roomA := uuid.New()
	roomB := uuid.New()

	subA := m.Subscribe(roomA)
	defer subA.Close()
	subB := m.Subscribe(roomB)
	defer subB.Close()
	subAll := m.SubscribeAll()
	defer subAll.Close()

	ev := roomEvent(t, roomA, 1)
	if err := m.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-subA.C:
		if got.Seq != 1 {
			t.Errorf("seq = %d", got.Seq)
		}
	default:
		t.Fatal("room A subscriber missed its event")
	}
	select {
	case <-subB.C:
		t.Fatal("room B subscriber received another room's event")
	default:
	}
	select {
	case <-subAll.C:
	default:
		t.Fatal("all-rooms subscriber missed the event")
	}
}

func TestMemoryClosedSubscriptionStopsDelivery(t *testing.T) {
	m := NewMemory()
	roomID := uuid.New()

	sub := m.Subscribe(roomID)
	sub.Close()
	sub.Close() // idempotent

	if err := m.Publish(context.Background(), roomEvent(t, roomID, 1)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub.C:
		t.Fatal("closed subscription still receiving")
	default:
	}
}

func TestMemoryDropsWhenSubscriberFull(t *testing.T) {
	m := NewMemory()
	roomID := uuid.New()
	sub := m.Subscribe(roomID)
	defer sub.Close()

	// Fill the buffer and one more; Publish must not block.
	for i := 0; i < subscriberBuffer+5; i++ {
		if err := m.Publish(context.Background(), roomEvent(t, roomID, uint64(i+1))); err != nil {
			t.Fatal(err)
		}
	}

	received := 0
	for {
		select {
		case <-sub.C:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Errorf("received %d events, want buffer size %d", received, subscriberBuffer)
	}
}

type failingPublisher struct {
	err   error
	calls int
}

func (f *failingPublisher) Publish(context.Context, events.GameEvent) error {
	f.calls++
	return f.err
}

func TestTeeReachesEveryPublisher(t *testing.T) {
	boom := errors.New("boom")
	first := &failingPublisher{err: boom}
	second := &failingPublisher{}

	err := Tee{first, second}.Publish(context.Background(), roomEvent(t, uuid.New(), 1))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want first failure", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want both attempted", first.calls, second.calls)
	}
}
