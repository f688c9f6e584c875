package room

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/interaction"
	"github.com/mcdev12/tabletop/go/internal/interaction/command"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
)

var (
	dmUser    = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
	aliceUser = uuid.MustParse("00000000-0000-0000-0000-0000000000a0")
	bobUser   = uuid.MustParse("00000000-0000-0000-0000-0000000000b0")
	aliceChar = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	bobChar   = uuid.MustParse("00000000-0000-0000-0000-0000000000b1")
)

// capturePublisher records everything published, in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.GameEvent
}

func (c *capturePublisher) Publish(_ context.Context, ev events.GameEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturePublisher) all() []events.GameEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.GameEvent(nil), c.events...)
}

type captureArchiver struct {
	mu       sync.Mutex
	archived []*models.GameState
}

func (c *captureArchiver) ArchiveInteraction(_ context.Context, st *models.GameState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archived = append(c.archived, st)
	return nil
}

func participant(entityID uuid.UUID, owner *uuid.UUID) models.ParticipantState {
	return models.ParticipantState{
		EntityID:    entityID,
		EntityType:  models.EntityTypePlayerCharacter,
		OwnerUserID: owner,
		CurrentHP:   20,
		MaxHP:       20,
		AvailableActions: []models.ActionKind{
			models.ActionKindMove,
			models.ActionKindEnd,
		},
	}
}

func newTestStore(t *testing.T, pub Publisher, arch Archiver) (*Store, uuid.UUID) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := NewStore(command.NewProcessor(clock, nil), pub, arch, clock, models.InteractionSettings{})

	roomID := uuid.New()
	if _, err := store.CreateRoom(context.Background(), roomID, dmUser, nil); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return store, roomID
}

func startEncounter(t *testing.T, store *Store, roomID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	cmds := []command.Command{
		command.Join{Meta: command.Meta{ActorUserID: aliceUser}, Participant: participant(aliceChar, &aliceUser), InitiativeScore: 20},
		command.Join{Meta: command.Meta{ActorUserID: bobUser}, Participant: participant(bobChar, &bobUser), InitiativeScore: 15},
		command.Start{Meta: command.Meta{ActorUserID: dmUser, IsDM: true}},
	}
	for _, cmd := range cmds {
		if _, _, err := store.Apply(ctx, roomID, cmd); err != nil {
			t.Fatalf("Apply(%T): %v", cmd, err)
		}
	}
}

func TestCreateRoomDefaults(t *testing.T) {
	store, roomID := newTestStore(t, nil, nil)

	st, err := store.Snapshot(context.Background(), roomID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != models.InteractionStatusWaiting {
		t.Errorf("status = %s, want WAITING", st.Status)
	}
	if st.Settings.TurnBudgetSec != DefaultTurnBudgetSec {
		t.Errorf("turn budget = %d, want default %d", st.Settings.TurnBudgetSec, DefaultTurnBudgetSec)
	}
	if st.DMUserID != dmUser {
		t.Errorf("dm = %s", st.DMUserID)
	}
}

func TestCreateRoomDuplicate(t *testing.T) {
	store, roomID := newTestStore(t, nil, nil)
	_, err := store.CreateRoom(context.Background(), roomID, dmUser, nil)
	if !interaction.IsKind(err, interaction.KindInvalidTransition) {
		t.Errorf("want InvalidTransition, got %v", err)
	}
}

func TestApplyUnknownRoom(t *testing.T) {
	store, _ := newTestStore(t, nil, nil)
	_, _, err := store.Apply(context.Background(), uuid.New(), command.Start{})
	if !interaction.IsKind(err, interaction.KindNotFound) {
		t.Errorf("want NotFound, got %v", err)
	}
}

func TestApplyAssignsContiguousSequence(t *testing.T) {
	pub := &capturePublisher{}
	store, roomID := newTestStore(t, pub, nil)
	startEncounter(t, store, roomID)

	published := pub.all()
	if len(published) == 0 {
		t.Fatal("nothing published")
	}
	for i, ev := range published {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, ev.Seq, i+1)
		}
	}

	st, _ := store.Snapshot(context.Background(), roomID)
	if st.LastEventSeq != published[len(published)-1].Seq {
		t.Errorf("LastEventSeq = %d, want %d", st.LastEventSeq, published[len(published)-1].Seq)
	}
}

func TestFailedCommandLeavesRoomUnchanged(t *testing.T) {
	pub := &capturePublisher{}
	store, roomID := newTestStore(t, pub, nil)
	startEncounter(t, store, roomID)

	before, _ := store.Snapshot(context.Background(), roomID)
	publishedBefore := len(pub.all())

	// Bob acts out of turn.
	_, _, err := store.Apply(context.Background(), roomID, command.TakeTurn{
		Meta:   command.Meta{ActorUserID: bobUser},
		Action: models.TurnAction{Kind: models.ActionKindEnd, ActorEntityID: bobChar},
	})
	if !interaction.IsKind(err, interaction.KindNotYourTurn) {
		t.Fatalf("want NotYourTurn, got %v", err)
	}

	after, _ := store.Snapshot(context.Background(), roomID)
	if after.LastEventSeq != before.LastEventSeq || len(after.TurnHistory) != len(before.TurnHistory) {
		t.Errorf("rejected command must not change the room")
	}
	if len(pub.all()) != publishedBefore {
		t.Errorf("rejected command must not publish events")
	}
}

func TestConcurrentTurnsOnlyOneWins(t *testing.T) {
	store, roomID := newTestStore(t, nil, nil)
	startEncounter(t, store, roomID)

	// Alice's turn is active; her owner and the DM race to end it. Exactly
	// one submission lands, the other sees the advanced turn.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	metas := []command.Meta{
		{ActorUserID: aliceUser},
		{ActorUserID: dmUser, IsDM: true},
	}
	for i, meta := range metas {
		wg.Add(1)
		go func(i int, meta command.Meta) {
			defer wg.Done()
			_, _, errs[i] = store.Apply(context.Background(), roomID, command.TakeTurn{
				Meta:   meta,
				Action: models.TurnAction{Kind: models.ActionKindEnd, ActorEntityID: aliceChar},
			})
		}(i, meta)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case interaction.IsKind(err, interaction.KindNotYourTurn):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Errorf("won=%d lost=%d, want exactly one of each", won, lost)
	}

	st, _ := store.Snapshot(context.Background(), roomID)
	if len(st.TurnHistory) != 1 {
		t.Errorf("history length = %d, want 1", len(st.TurnHistory))
	}
}

func TestEventsSinceReplaysSuffix(t *testing.T) {
	store, roomID := newTestStore(t, nil, nil)
	startEncounter(t, store, roomID)

	st, _ := store.Snapshot(context.Background(), roomID)
	latest := st.LastEventSeq

	evs, complete, err := store.EventsSince(roomID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !complete {
		t.Fatal("journal should cover the requested range")
	}
	if uint64(len(evs)) != latest-2 {
		t.Fatalf("got %d events, want %d", len(evs), latest-2)
	}
	for i, ev := range evs {
		if ev.Seq != uint64(3+i) {
			t.Errorf("event %d seq = %d, want %d", i, ev.Seq, 3+i)
		}
	}

	evs, complete, _ = store.EventsSince(roomID, latest)
	if !complete || len(evs) != 0 {
		t.Errorf("up-to-date subscriber should get an empty complete reply")
	}
}

func TestEventsSinceTruncatedJournal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(command.NewProcessor(clock, nil), nil, nil, clock, models.InteractionSettings{EventJournalSize: 2})
	roomID := uuid.New()
	if _, err := store.CreateRoom(context.Background(), roomID, dmUser, nil); err != nil {
		t.Fatal(err)
	}
	startEncounter(t, store, roomID)

	_, complete, err := store.EventsSince(roomID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if complete {
		t.Error("journal of size 2 cannot replay from zero; want complete=false")
	}
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	store, roomID := newTestStore(t, nil, nil)
	startEncounter(t, store, roomID)

	snap, _ := store.Snapshot(context.Background(), roomID)
	snap.Participants[aliceChar] = models.ParticipantState{EntityID: aliceChar, CurrentHP: -99}
	snap.InitiativeOrder = nil

	fresh, _ := store.Snapshot(context.Background(), roomID)
	if fresh.Participants[aliceChar].CurrentHP == -99 {
		t.Error("mutating a snapshot must not reach the store")
	}
	if len(fresh.InitiativeOrder) == 0 {
		t.Error("initiative order lost through snapshot aliasing")
	}
}

func TestSnapshotIsIdempotent(t *testing.T) {
	store, roomID := newTestStore(t, nil, nil)
	startEncounter(t, store, roomID)
	ctx := context.Background()

	mustStoreApply(t, store, roomID, command.SendChat{
		Meta:    command.Meta{ActorUserID: aliceUser},
		Content: "holding position",
		Channel: models.ChatChannelParty,
	})

	first, err := store.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("back-to-back snapshots with no intervening commands differ\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestRollbackThroughStoreUsesJoinBaselines(t *testing.T) {
	store, roomID := newTestStore(t, nil, nil)
	startEncounter(t, store, roomID)
	ctx := context.Background()

	mustStoreApply(t, store, roomID, command.TakeTurn{
		Meta:   command.Meta{ActorUserID: aliceUser},
		Action: models.TurnAction{Kind: models.ActionKindMove, ActorEntityID: aliceChar, Position: &models.Position{X: 5, Y: 5}},
	})
	mustStoreApply(t, store, roomID, command.TakeTurn{
		Meta:   command.Meta{ActorUserID: bobUser},
		Action: models.TurnAction{Kind: models.ActionKindMove, ActorEntityID: bobChar, Position: &models.Position{X: 8, Y: 1}},
	})

	st, _, err := store.Apply(ctx, roomID, command.Rollback{
		Meta:       command.Meta{ActorUserID: dmUser, IsDM: true},
		TurnNumber: 1, RoundNumber: 1,
	})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	if got := st.Participants[aliceChar].Position; got != (models.Position{X: 5, Y: 5}) {
		t.Errorf("alice position = %+v, want turn 1 replayed", got)
	}
	if got := st.Participants[bobChar].Position; got != (models.Position{}) {
		t.Errorf("bob position = %+v, want join baseline", got)
	}
	if len(st.TurnHistory) != 1 {
		t.Errorf("history length = %d, want 1", len(st.TurnHistory))
	}
}

func TestCompletionArchivesOnce(t *testing.T) {
	arch := &captureArchiver{}
	store, roomID := newTestStore(t, nil, arch)
	startEncounter(t, store, roomID)

	mustStoreApply(t, store, roomID, command.Complete{Meta: command.Meta{ActorUserID: dmUser, IsDM: true}})

	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.archived) != 1 {
		t.Fatalf("archived %d times, want 1", len(arch.archived))
	}
	if arch.archived[0].Status != models.InteractionStatusCompleted {
		t.Errorf("archived status = %s", arch.archived[0].Status)
	}
}

func mustStoreApply(t *testing.T, store *Store, roomID uuid.UUID, cmd command.Command) *models.GameState {
	t.Helper()
	st, _, err := store.Apply(context.Background(), roomID, cmd)
	if err != nil {
		t.Fatalf("Apply(%T): %v", cmd, err)
	}
	return st
}
