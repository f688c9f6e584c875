package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/interaction"
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

func activeState(roomID uuid.UUID, clock clockwork.Clock) *models.GameState {
	deadline := clock.Now().Add(90 * time.Second)
	started := clock.Now()
	return &models.GameState{
		RoomID:   roomID,
		Status:   models.InteractionStatusActive,
		DMUserID: dmUser,
		Settings: models.InteractionSettings{TurnBudgetSec: 90},
		InitiativeOrder: []models.InitiativeEntry{
			{EntityID: aliceChar, EntityType: models.EntityTypePlayerCharacter, InitiativeScore: 20, OwnerUserID: &aliceUser},
			{EntityID: bobChar, EntityType: models.EntityTypePlayerCharacter, InitiativeScore: 15, OwnerUserID: &bobUser},
		},
		CurrentTurnIndex: 0,
		RoundNumber:      1,
		Participants: map[uuid.UUID]models.ParticipantState{
			aliceChar: {EntityID: aliceChar, OwnerUserID: &aliceUser, CurrentHP: 30, MaxHP: 30, TurnStatus: models.TurnStatusActive},
			bobChar:   {EntityID: bobChar, OwnerUserID: &bobUser, CurrentHP: 25, MaxHP: 25, TurnStatus: models.TurnStatusWaiting},
		},
		TurnHistory:   []models.TurnRecord{},
		ChatLog:       []models.ChatMessage{},
		TurnStartedAt: &started,
		TurnDeadline:  &deadline,
		LastEventSeq:  4,
	}
}

// newTestSession returns a connected session with a running event loop and
// no network behind it (BaseURL points nowhere unless overridden).
func newTestSession(t *testing.T, clock clockwork.Clock, baseURL string) (*Session, *models.GameState) {
	t.Helper()
	roomID := uuid.New()
	st := activeState(roomID, clock)

	s := NewSession(Config{
		BaseURL:        baseURL,
		WSURL:          "ws://unused",
		RoomID:         roomID,
		UserID:         aliceUser,
		Clock:          clock,
		RequestTimeout: time.Second,
	})
	s.confirmed = st.Clone()
	s.mirror = st.Clone()
	s.lastSeq = st.LastEventSeq
	s.connState = StateConnected

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	t.Cleanup(func() {
		cancel()
		s.wg.Wait()
	})
	return s, st
}

func chatPending(correlation, content string) pending {
	msg := models.ChatMessage{
		ID:           models.NewProvisionalChatID(),
		SenderUserID: aliceUser,
		Content:      content,
		Channel:      models.ChatChannelParty,
	}
	return pending{
		correlation:   correlation,
		provisionalID: msg.ID,
		transform: func(st *models.GameState) {
			st.ChatLog = append(st.ChatLog, msg)
		},
	}
}

func TestOptimisticRevertRestoresMirror(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, _ := newTestSession(t, clock, "")

	before := s.Snapshot()
	s.mutate(pending{
		correlation: "c1",
		transform:   optimisticTurn(models.TurnAction{Kind: models.ActionKindEnd, ActorEntityID: aliceChar}),
	})

	mid := s.Snapshot()
	if mid.CurrentTurnIndex != 1 {
		t.Fatalf("optimistic apply did not advance the turn, index = %d", mid.CurrentTurnIndex)
	}

	s.resolveFailure("c1", nil)

	after := s.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("revert must restore the exact pre-mutation mirror\nbefore: %+v\nafter:  %+v", before, after)
	}
}

func TestIndependentMutationsRevertIndependently(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, _ := newTestSession(t, clock, "")

	s.mutate(chatPending("c1", "first"))
	s.mutate(chatPending("c2", "second"))

	s.resolveFailure("c1", nil)

	st := s.Snapshot()
	if len(st.ChatLog) != 1 {
		t.Fatalf("chat log length = %d, want only the surviving mutation", len(st.ChatLog))
	}
	if st.ChatLog[0].Content != "second" {
		t.Errorf("surviving message = %q, want %q", st.ChatLog[0].Content, "second")
	}
}

func TestCommitSnapshotServerWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, st := newTestSession(t, clock, "")

	s.mutate(pending{
		correlation: "c1",
		transform:   optimisticTurn(models.TurnAction{Kind: models.ActionKindEnd, ActorEntityID: aliceChar}),
	})

	// The server resolved the turn differently than the optimistic guess.
	server := st.Clone()
	server.CurrentTurnIndex = 1
	server.RoundNumber = 1
	server.LastEventSeq = 7
	part := server.Participants[aliceChar]
	part.CurrentHP = 12
	server.Participants[aliceChar] = part

	done := make(chan struct{})
	s.run(func() {
		s.commitSnapshot("c1", server)
		close(done)
	})
	<-done

	got := s.Snapshot()
	if got.Participants[aliceChar].CurrentHP != 12 {
		t.Errorf("mirror HP = %d, want the server's value", got.Participants[aliceChar].CurrentHP)
	}
	if got.LastEventSeq != 7 {
		t.Errorf("LastEventSeq = %d, want 7", got.LastEventSeq)
	}
}

func TestCommitChatReplacesProvisional(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, _ := newTestSession(t, clock, "")

	s.mutate(chatPending("c1", "hello"))

	final := models.ChatMessage{
		ID:           uuid.New().String(),
		SenderUserID: aliceUser,
		Content:      "hello",
		Channel:      models.ChatChannelParty,
		Timestamp:    clock.Now(),
	}
	done := make(chan struct{})
	s.run(func() {
		s.commitChat("c1", final)
		close(done)
	})
	<-done

	st := s.Snapshot()
	if len(st.ChatLog) != 1 {
		t.Fatalf("chat log length = %d, want exactly one entry after reconciliation", len(st.ChatLog))
	}
	if st.ChatLog[0].ID != final.ID {
		t.Errorf("message id = %s, want server id %s", st.ChatLog[0].ID, final.ID)
	}
	if models.IsProvisionalChatID(st.ChatLog[0].ID) {
		t.Errorf("provisional id survived reconciliation")
	}
}

func TestBroadcastRetiresOwnMutation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, st := newTestSession(t, clock, "")

	s.mutate(chatPending("c1", "hello"))

	serverMsg := models.ChatMessage{
		ID:           uuid.New().String(),
		SenderUserID: aliceUser,
		Content:      "hello",
		Channel:      models.ChatChannelParty,
	}
	ev, err := events.New(st.RoomID, events.TypeChatMessage, events.ChatMessagePayload{Message: serverMsg})
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = st.LastEventSeq + 1
	ev.Correlation = "c1"

	done := make(chan struct{})
	s.run(func() {
		s.handleEvent(context.Background(), ev)
		close(done)
	})
	<-done

	got := s.Snapshot()
	if len(got.ChatLog) != 1 {
		t.Fatalf("chat log length = %d; own broadcast must not double-apply", len(got.ChatLog))
	}
	if got.ChatLog[0].ID != serverMsg.ID {
		t.Errorf("message id = %s, want server id", got.ChatLog[0].ID)
	}
	if got.LastEventSeq != ev.Seq {
		t.Errorf("LastEventSeq = %d, want %d", got.LastEventSeq, ev.Seq)
	}
}

func TestFoldPreservesPendingMutations(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, st := newTestSession(t, clock, "")

	s.mutate(chatPending("mine", "draft message"))

	// Someone else's chat arrives; our unconfirmed entry must survive on top.
	other := models.ChatMessage{ID: uuid.New().String(), SenderUserID: bobUser, Content: "from bob", Channel: models.ChatChannelParty}
	ev, err := events.New(st.RoomID, events.TypeChatMessage, events.ChatMessagePayload{Message: other})
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = st.LastEventSeq + 1
	ev.Correlation = "someone-elses"

	done := make(chan struct{})
	s.run(func() {
		s.handleEvent(context.Background(), ev)
		close(done)
	})
	<-done

	got := s.Snapshot()
	if len(got.ChatLog) != 2 {
		t.Fatalf("chat log length = %d, want folded event plus pending entry", len(got.ChatLog))
	}
	if got.ChatLog[0].Content != "from bob" || got.ChatLog[1].Content != "draft message" {
		t.Errorf("order = %q, %q", got.ChatLog[0].Content, got.ChatLog[1].Content)
	}
}

func TestFoldTurnStartedDrivesDerivedViews(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, st := newTestSession(t, clock, "")

	if !s.IsMyTurn() {
		t.Fatal("alice should hold the opening turn")
	}

	deadline := clock.Now().Add(45 * time.Second)
	ev, err := events.New(st.RoomID, events.TypeTurnStarted, events.TurnStartedPayload{
		EntityID:    bobChar,
		TurnIndex:   1,
		RoundNumber: 1,
		StartedAt:   clock.Now(),
		DeadlineAt:  deadline,
	})
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = st.LastEventSeq + 1

	done := make(chan struct{})
	s.run(func() {
		s.handleEvent(context.Background(), ev)
		close(done)
	})
	<-done

	if s.IsMyTurn() {
		t.Error("turn moved to bob; IsMyTurn must be false")
	}
	part, ok := s.CurrentTurnParticipant()
	if !ok || part.EntityID != bobChar {
		t.Errorf("current participant = %+v", part)
	}

	clock.Advance(20 * time.Second)
	if got := s.TurnTimeRemaining(); got != 25*time.Second {
		t.Errorf("remaining = %v, want 25s derived from the server deadline", got)
	}
}

func TestFoldInitiativeUpdateMovesSuspendedTurn(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, st := newTestSession(t, clock, "")

	pauseEv, err := events.New(st.RoomID, events.TypeInteractionPaused, events.InteractionPausedPayload{
		Reason:       "break",
		RemainingSec: 40,
	})
	if err != nil {
		t.Fatal(err)
	}
	pauseEv.Seq = st.LastEventSeq + 1

	reorderEv, err := events.New(st.RoomID, events.TypeInitiativeUpdated, events.InitiativeUpdatedPayload{
		InitiativeOrder: []models.InitiativeEntry{
			{EntityID: bobChar, EntityType: models.EntityTypePlayerCharacter, InitiativeScore: 30, OwnerUserID: &bobUser},
			{EntityID: aliceChar, EntityType: models.EntityTypePlayerCharacter, InitiativeScore: 10, OwnerUserID: &aliceUser},
		},
		CurrentTurnIndex: 0,
		RoundNumber:      1,
	})
	if err != nil {
		t.Fatal(err)
	}
	reorderEv.Seq = st.LastEventSeq + 2

	done := make(chan struct{})
	s.run(func() {
		s.handleEvent(context.Background(), pauseEv)
		s.handleEvent(context.Background(), reorderEv)
		close(done)
	})
	<-done

	got := s.Snapshot()
	if got.Participants[bobChar].TurnStatus != models.TurnStatusActive {
		t.Errorf("bob should hold the suspended turn after the reorder")
	}
	if got.Participants[aliceChar].TurnStatus != models.TurnStatusWaiting {
		t.Errorf("alice's stale turn survived the reorder")
	}
	part, ok := s.CurrentTurnParticipant()
	if !ok || part.EntityID != bobChar {
		t.Errorf("current participant = %+v", part)
	}
}

func TestStaleAndDuplicateEventsIgnored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, st := newTestSession(t, clock, "")

	msg := models.ChatMessage{ID: uuid.New().String(), SenderUserID: bobUser, Content: "old news", Channel: models.ChatChannelParty}
	ev, err := events.New(st.RoomID, events.TypeChatMessage, events.ChatMessagePayload{Message: msg})
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = st.LastEventSeq // already seen

	done := make(chan struct{})
	s.run(func() {
		s.handleEvent(context.Background(), ev)
		close(done)
	})
	<-done

	if got := s.Snapshot(); len(got.ChatLog) != 0 {
		t.Errorf("stale event was folded, chat length = %d", len(got.ChatLog))
	}
}

func TestGapTriggersJournalReplay(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var roomID uuid.UUID
	missed := make([]events.GameEvent, 0, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"events":   missed,
			"complete": true,
		})
	}))
	defer srv.Close()

	s, st := newTestSession(t, clock, srv.URL)
	roomID = st.RoomID

	for i := uint64(1); i <= 2; i++ {
		msg := models.ChatMessage{ID: uuid.New().String(), SenderUserID: bobUser, Content: "missed", Channel: models.ChatChannelParty}
		ev, err := events.New(roomID, events.TypeChatMessage, events.ChatMessagePayload{Message: msg})
		if err != nil {
			t.Fatal(err)
		}
		ev.Seq = st.LastEventSeq + i
		missed = append(missed, ev)
	}

	// Deliver an event two ahead of the mirror; the session must fetch the
	// missing suffix instead of folding out of order.
	gapped := missed[1]
	done := make(chan struct{})
	s.run(func() {
		s.handleEvent(context.Background(), gapped)
		close(done)
	})
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := s.Snapshot()
		if len(got.ChatLog) == 2 && got.LastEventSeq == st.LastEventSeq+2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replay never reconciled: chat=%d seq=%d", len(got.ChatLog), got.LastEventSeq)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnfoldableReplayFallsBackToResync(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var handler http.HandlerFunc
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r)
	}))
	defer srv.Close()

	s, st := newTestSession(t, clock, srv.URL)

	// The journal hands back an event the session cannot interpret, so the
	// incremental replay must give up and adopt a full snapshot instead.
	bogus := events.GameEvent{
		ID:     uuid.New().String(),
		RoomID: st.RoomID.String(),
		Type:   events.Type("Phase"),
		Seq:    st.LastEventSeq + 1,
	}
	resynced := st.Clone()
	resynced.ChatLog = append(resynced.ChatLog, models.ChatMessage{
		ID:           uuid.New().String(),
		SenderUserID: bobUser,
		Content:      "from snapshot",
		Channel:      models.ChatChannelParty,
	})
	resynced.LastEventSeq = st.LastEventSeq + 2

	handler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") != "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"events":   []events.GameEvent{bogus},
				"complete": true,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"game_state": resynced})
	}

	gapped := events.GameEvent{
		ID:     uuid.New().String(),
		RoomID: st.RoomID.String(),
		Type:   events.TypeChatMessage,
		Seq:    st.LastEventSeq + 2,
	}
	done := make(chan struct{})
	s.run(func() {
		s.handleEvent(context.Background(), gapped)
		close(done)
	})
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := s.Snapshot()
		if got.LastEventSeq == st.LastEventSeq+2 {
			if len(got.ChatLog) != 1 || got.ChatLog[0].Content != "from snapshot" {
				t.Fatalf("mirror did not adopt the snapshot, chat = %+v", got.ChatLog)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no full resync happened; mirror stalled at seq %d", got.LastEventSeq)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNotConnectedFailsFast(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, _ := newTestSession(t, clock, "")

	done := make(chan struct{})
	s.run(func() {
		s.connState = StateDisconnected
		close(done)
	})
	<-done

	err := s.SendChat(context.Background(), "hello", models.ChatChannelParty, nil, nil)
	if !interaction.IsKind(err, interaction.KindNotConnected) {
		t.Fatalf("SendChat while disconnected returned %v, want NOT_CONNECTED", err)
	}
	if got := s.Snapshot(); len(got.ChatLog) != 0 {
		t.Errorf("no optimistic entry may be applied while disconnected")
	}
}
