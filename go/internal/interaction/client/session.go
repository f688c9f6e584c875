// Package client is the synchronization agent that runs once per connected
// player or DM. It mirrors the room's GameState locally, applies optimistic
// mutations before the server confirms them, reconciles against authoritative
// responses and broadcast events, and exposes derived read-only views.
//
// The mirror is owned by a single event loop goroutine. Optimistic applies,
// reconciliations, and inbound broadcast folding all run as closures on one
// ordered queue, so a broadcast arriving between optimistic-apply and
// reconciliation can never be lost or double-applied.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ConnState is the session's connection lifecycle.
type ConnState string

const (
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
	StateDisconnected ConnState = "DISCONNECTED"
	StateClosed       ConnState = "CLOSED"
)

// Config configures a session.
type Config struct {
	BaseURL string // command API, e.g. http://host:8080
	WSURL   string // event stream, e.g. ws://host:8080
	RoomID  uuid.UUID
	UserID  uuid.UUID
	IsDM    bool

	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
	Clock          clockwork.Clock
	RequestTimeout time.Duration
	ReconnectWait  time.Duration
}

// pending is one in-flight optimistic mutation. The mirror is always
// "confirmed state + every pending transform in order", so reverting one
// mutation never disturbs the others.
type pending struct {
	correlation   string
	transform     func(st *models.GameState)
	provisionalID string // set for chat sends
}

// Session is a per-client synchronization agent. Construct with NewSession,
// start with Open, and always Close (or Leave) when done.
type Session struct {
	cfg Config

	ops    chan func()
	closed chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc

	// Owned by the event loop goroutine.
	confirmed *models.GameState
	mirror    *models.GameState
	inflight  []pending
	lastSeq   uint64
	connState ConnState

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewSession creates a session; Open starts it.
func NewSession(cfg Config) *Session {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &Session{
		cfg:       cfg,
		ops:       make(chan func(), 128),
		closed:    make(chan struct{}),
		connState: StateConnecting,
	}
}

// Open syncs the mirror, subscribes to the event stream, and starts the
// event loop. The session is Connected on return.
func (s *Session) Open(ctx context.Context) error {
	st, err := s.fetchState(ctx)
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	s.setConn(conn)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.confirmed = st
	s.mirror = st.Clone()
	s.lastSeq = st.LastEventSeq
	s.connState = StateConnected

	s.wg.Add(2)
	go s.loop(loopCtx)
	go s.readPump(loopCtx, conn)

	log.Info().
		Str("room_id", s.cfg.RoomID.String()).
		Str("user_id", s.cfg.UserID.String()).
		Uint64("seq", s.lastSeq).
		Msg("session opened")
	return nil
}

// Close tears the session down. Pending optimistic mutations are reverted,
// not silently dropped.
func (s *Session) Close() {
	select {
	case <-s.closed:
		return
	default:
	}

	done := make(chan struct{})
	s.run(func() {
		for len(s.inflight) > 0 {
			s.revert(s.inflight[0].correlation)
		}
		s.connState = StateClosed
		close(done)
	})
	<-done

	close(s.closed)
	if s.cancel != nil {
		s.cancel()
	}
	if conn := s.getConn(); conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	log.Info().Str("room_id", s.cfg.RoomID.String()).Msg("session closed")
}

// loop executes queued mirror operations in order.
func (s *Session) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op()
		}
	}
}

// run queues an operation onto the event loop.
func (s *Session) run(op func()) {
	select {
	case <-s.closed:
	case s.ops <- op:
	}
}

// view runs a read against the mirror and waits for the result.
func (s *Session) view(read func()) {
	done := make(chan struct{})
	s.run(func() {
		read()
		close(done)
	})
	select {
	case <-done:
	case <-s.closed:
	}
}

// readPump receives broadcast events and feeds them to the loop. On channel
// loss it triggers the reconnect cycle.
func (s *Session) readPump(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("room_id", s.cfg.RoomID.String()).Msg("event channel lost")
			s.run(func() { s.connState = StateDisconnected })
			s.reconnect(ctx)
			return
		}

		var ev events.GameEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Msg("malformed broadcast event")
			continue
		}
		s.run(func() { s.handleEvent(ctx, ev) })
	}
}

// reconnect retries the event channel until it comes back or the session
// closes, then resyncs the mirror from the authoritative snapshot. A resync
// also reconciles any command whose response timed out but whose mutation
// actually applied server-side.
func (s *Session) reconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-s.cfg.Clock.After(s.cfg.ReconnectWait):
		}

		s.run(func() { s.connState = StateConnecting })
		conn, err := s.dial(ctx)
		if err != nil {
			log.Warn().Err(err).Str("room_id", s.cfg.RoomID.String()).Msg("reconnect attempt failed")
			s.run(func() { s.connState = StateDisconnected })
			continue
		}
		s.setConn(conn)

		st, err := s.fetchState(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("resync after reconnect failed")
			conn.Close()
			s.run(func() { s.connState = StateDisconnected })
			continue
		}

		s.run(func() {
			s.confirmed = st
			s.lastSeq = st.LastEventSeq
			s.connState = StateConnected
			s.recompute()
		})

		s.wg.Add(1)
		go s.readPump(ctx, conn)
		log.Info().Str("room_id", s.cfg.RoomID.String()).Msg("session reconnected")
		return
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/ws/rooms/%s", s.cfg.WSURL, s.cfg.RoomID)
	header := http.Header{}
	header.Set("X-User-Id", s.cfg.UserID.String())
	if s.cfg.IsDM {
		header.Set("X-Room-Role", "dm")
	}
	conn, _, err := s.cfg.Dialer.DialContext(ctx, url, header)
	return conn, err
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *Session) getConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// recompute rebuilds the mirror as confirmed state plus in-flight transforms
// in submission order.
func (s *Session) recompute() {
	m := s.confirmed.Clone()
	for _, p := range s.inflight {
		if p.transform != nil {
			p.transform(m)
		}
	}
	s.mirror = m
}

// applyOptimistic registers an in-flight mutation and folds it into the
// mirror.
func (s *Session) applyOptimistic(p pending) {
	s.inflight = append(s.inflight, p)
	if p.transform != nil {
		p.transform(s.mirror)
	}
}

// revert drops one in-flight mutation; independent mutations are untouched.
func (s *Session) revert(correlation string) {
	for i, p := range s.inflight {
		if p.correlation == correlation {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			s.recompute()
			return
		}
	}
}

// commitSnapshot replaces the confirmed state with an authoritative
// snapshot; the server wins unconditionally, no merging.
func (s *Session) commitSnapshot(correlation string, st *models.GameState) {
	s.dropPending(correlation)
	if st == nil {
		s.recompute()
		return
	}
	s.confirmed = st
	if st.LastEventSeq > s.lastSeq {
		s.lastSeq = st.LastEventSeq
	}
	s.recompute()
}

// commitChat replaces the provisional chat entry with the server-assigned
// message, preserving log order.
func (s *Session) commitChat(correlation string, msg models.ChatMessage) {
	s.dropPending(correlation)
	replaced := false
	for i := range s.confirmed.ChatLog {
		if s.confirmed.ChatLog[i].ID == msg.ID {
			s.confirmed.ChatLog[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		s.confirmed.ChatLog = append(s.confirmed.ChatLog, msg)
	}
	s.recompute()
}

func (s *Session) dropPending(correlation string) {
	for i, p := range s.inflight {
		if p.correlation == correlation {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			return
		}
	}
}

func (s *Session) findPending(correlation string) bool {
	for _, p := range s.inflight {
		if p.correlation == correlation {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the local mirror.
func (s *Session) Snapshot() *models.GameState {
	var st *models.GameState
	s.view(func() { st = s.mirror.Clone() })
	return st
}

// State returns the session's connection state.
func (s *Session) State() ConnState {
	var cs ConnState
	s.view(func() { cs = s.connState })
	if cs == "" {
		cs = StateClosed
	}
	return cs
}

// CurrentTurnParticipant returns the participant whose turn is active.
func (s *Session) CurrentTurnParticipant() (models.ParticipantState, bool) {
	var part models.ParticipantState
	var ok bool
	s.view(func() {
		if entry, found := s.mirror.ActiveEntry(); found {
			part, ok = s.mirror.Participants[entry.EntityID]
		}
	})
	return part, ok
}

// IsMyTurn reports whether the active participant belongs to this user.
func (s *Session) IsMyTurn() bool {
	var mine bool
	s.view(func() {
		if s.mirror.Status != models.InteractionStatusActive {
			return
		}
		if entry, found := s.mirror.ActiveEntry(); found {
			mine = entry.OwnerUserID != nil && *entry.OwnerUserID == s.cfg.UserID
		}
	})
	return mine
}

// TurnTimeRemaining derives the countdown from the server-supplied deadline,
// so it never drifts from the scheduler's clock beyond transport latency.
func (s *Session) TurnTimeRemaining() time.Duration {
	var remaining time.Duration
	s.view(func() {
		switch {
		case s.mirror.Status == models.InteractionStatusPaused:
			remaining = s.mirror.TurnRemaining
		case s.mirror.TurnDeadline != nil:
			remaining = s.mirror.TurnDeadline.Sub(s.cfg.Clock.Now())
		}
	})
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}
