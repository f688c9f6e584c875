package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/interaction"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Join requests a seat in the room. No optimistic apply: the server decides
// initiative placement, so the commit is the first time the participant shows
// up in the mirror.
func (s *Session) Join(ctx context.Context, participant models.ParticipantState, initiativeScore int) error {
	body := map[string]interface{}{
		"participant":      participant,
		"initiative_score": initiativeScore,
	}
	return s.submitPlain(ctx, "join", body)
}

// Leave removes the entity from the room. Anything still in flight is
// reverted first; a departure abandons unconfirmed work rather than letting
// it reconcile against a room the entity is no longer part of.
func (s *Session) Leave(ctx context.Context, entityID uuid.UUID) error {
	done := make(chan struct{})
	s.run(func() {
		for len(s.inflight) > 0 {
			s.revert(s.inflight[0].correlation)
		}
		close(done)
	})
	<-done
	return s.submitPlain(ctx, "leave", map[string]interface{}{"entity_id": entityID})
}

// Start begins the interaction (DM only).
func (s *Session) Start(ctx context.Context) error {
	return s.submitPlain(ctx, "start", struct{}{})
}

// Complete ends the interaction (DM only).
func (s *Session) Complete(ctx context.Context) error {
	return s.submitPlain(ctx, "complete", struct{}{})
}

// TakeTurn submits the active participant's action. The mirror advances
// optimistically; a rejection reverts it and returns the server's typed error.
func (s *Session) TakeTurn(ctx context.Context, action models.TurnAction) error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	correlation := uuid.New().String()
	s.mutate(pending{
		correlation: correlation,
		transform:   optimisticTurn(action),
	})

	var resp turnResult
	err := s.post(ctx, "turn", correlation, map[string]interface{}{"action": action}, &resp)
	if err != nil {
		s.resolveFailure(correlation, err)
		return err
	}
	if !resp.Valid {
		verr := errorFromTurnResult(resp)
		s.run(func() {
			s.revert(correlation)
			if resp.GameState != nil && s.findPendingNone() {
				// No other optimistic work; adopt the snapshot the server
				// attached to the rejection.
				s.commitSnapshot("", resp.GameState)
			}
		})
		return verr
	}
	s.run(func() { s.commitSnapshot(correlation, resp.GameState) })
	return nil
}

// SkipTurn forfeits a turn on behalf of entityID.
func (s *Session) SkipTurn(ctx context.Context, entityID uuid.UUID, reason string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	correlation := uuid.New().String()
	s.mutate(pending{
		correlation: correlation,
		transform:   optimisticSkip(entityID),
	})

	var resp stateResult
	err := s.post(ctx, "skip", correlation, map[string]interface{}{
		"entity_id": entityID,
		"reason":    reason,
	}, &resp)
	if err != nil {
		s.resolveFailure(correlation, err)
		return err
	}
	s.run(func() { s.commitSnapshot(correlation, resp.GameState) })
	return nil
}

// SendChat appends a message. The mirror shows a provisional entry under a
// "tmp-" id immediately; the confirmed server message replaces it in place.
func (s *Session) SendChat(ctx context.Context, content string, channel models.ChatChannel, recipients []uuid.UUID, entityID *uuid.UUID) error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	correlation := uuid.New().String()
	provisional := models.ChatMessage{
		ID:           models.NewProvisionalChatID(),
		SenderUserID: s.cfg.UserID,
		EntityID:     entityID,
		Content:      content,
		Channel:      channel,
		Recipients:   recipients,
		Timestamp:    s.cfg.Clock.Now().UTC(),
	}
	s.mutate(pending{
		correlation:   correlation,
		provisionalID: provisional.ID,
		transform: func(st *models.GameState) {
			st.ChatLog = append(st.ChatLog, provisional)
		},
	})

	var resp chatResult
	err := s.post(ctx, "chat", correlation, map[string]interface{}{
		"content":    content,
		"channel":    channel,
		"recipients": recipients,
		"entity_id":  entityID,
	}, &resp)
	if err != nil {
		s.resolveFailure(correlation, err)
		return err
	}
	s.run(func() { s.commitChat(correlation, resp.Message) })
	return nil
}

// Pause freezes the turn countdown (DM only). The mirror toggles the status
// optimistically so the UI freezes its timer without waiting a round trip.
func (s *Session) Pause(ctx context.Context, reason string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	correlation := uuid.New().String()
	s.mutate(pending{
		correlation: correlation,
		transform: func(st *models.GameState) {
			if st.Status == models.InteractionStatusActive {
				st.Status = models.InteractionStatusPaused
			}
		},
	})

	var resp stateResult
	err := s.post(ctx, "pause", correlation, map[string]interface{}{"reason": reason}, &resp)
	if err != nil {
		s.resolveFailure(correlation, err)
		return err
	}
	s.run(func() { s.commitSnapshot(correlation, resp.GameState) })
	return nil
}

// Resume restarts the paused countdown (DM only).
func (s *Session) Resume(ctx context.Context) error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	correlation := uuid.New().String()
	s.mutate(pending{
		correlation: correlation,
		transform: func(st *models.GameState) {
			if st.Status == models.InteractionStatusPaused {
				st.Status = models.InteractionStatusActive
			}
		},
	})

	var resp stateResult
	err := s.post(ctx, "resume", correlation, struct{}{}, &resp)
	if err != nil {
		s.resolveFailure(correlation, err)
		return err
	}
	s.run(func() { s.commitSnapshot(correlation, resp.GameState) })
	return nil
}

// Rollback rewinds the room to just before the named turn (DM only). No
// optimistic apply: the authoritative replay result is the only defensible
// post-state.
func (s *Session) Rollback(ctx context.Context, turnNumber, roundNumber int) error {
	return s.submitPlain(ctx, "rollback", map[string]interface{}{
		"turn_number":  turnNumber,
		"round_number": roundNumber,
	})
}

// UpdateInitiative replaces the turn order (DM only).
func (s *Session) UpdateInitiative(ctx context.Context, order []models.InitiativeEntry) error {
	return s.submitPlain(ctx, "initiative", map[string]interface{}{"order": order})
}

// submitPlain runs a command with no optimistic mutation; the response
// snapshot is committed directly.
func (s *Session) submitPlain(ctx context.Context, op string, body interface{}) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	correlation := uuid.New().String()
	var resp stateResult
	if err := s.post(ctx, op, correlation, body, &resp); err != nil {
		return err
	}
	s.run(func() { s.commitSnapshot(correlation, resp.GameState) })
	return nil
}

// mutate queues an optimistic apply onto the event loop and waits for it so
// callers observe their own writes.
func (s *Session) mutate(p pending) {
	done := make(chan struct{})
	s.run(func() {
		s.applyOptimistic(p)
		close(done)
	})
	select {
	case <-done:
	case <-s.closed:
	}
}

// resolveFailure reverts an optimistic mutation after a failed or timed-out
// request. A timeout means the outcome is unknown: if the command did land,
// its broadcast event or the next resync restores the effect.
func (s *Session) resolveFailure(correlation string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn().
			Str("correlation", correlation).
			Msg("command outcome unknown after timeout; reverting until reconciled")
	}
	done := make(chan struct{})
	s.run(func() {
		s.revert(correlation)
		close(done)
	})
	select {
	case <-done:
	case <-s.closed:
	}
}

func (s *Session) requireConnected() error {
	if s.State() != StateConnected {
		return interaction.NewError(interaction.KindNotConnected, "session is not connected")
	}
	return nil
}

func (s *Session) findPendingNone() bool {
	return len(s.inflight) == 0
}

// optimisticTurn predicts the server's turn transition: the actor completes,
// the order advances, and a round wrap resets everyone to waiting. Movement
// is echoed locally; resolver-driven effects wait for the snapshot.
func optimisticTurn(action models.TurnAction) func(*models.GameState) {
	return func(st *models.GameState) {
		if action.Kind == models.ActionKindMove && action.Position != nil {
			if p, ok := st.Participants[action.ActorEntityID]; ok {
				p.Position = *action.Position
				st.Participants[action.ActorEntityID] = p
			}
		}
		advanceTurnLocally(st, action.ActorEntityID, models.TurnStatusCompleted)
	}
}

func optimisticSkip(entityID uuid.UUID) func(*models.GameState) {
	return func(st *models.GameState) {
		advanceTurnLocally(st, entityID, models.TurnStatusSkipped)
	}
}

func advanceTurnLocally(st *models.GameState, actor uuid.UUID, status models.TurnStatus) {
	entry, ok := st.ActiveEntry()
	if !ok || entry.EntityID != actor || st.Status != models.InteractionStatusActive {
		return
	}
	if p, found := st.Participants[actor]; found {
		p.TurnStatus = status
		st.Participants[actor] = p
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
	if next, found := st.ActiveEntry(); found {
		if p, ok := st.Participants[next.EntityID]; ok {
			p.TurnStatus = models.TurnStatusActive
			st.Participants[next.EntityID] = p
		}
	}
	// The next deadline is server-owned; leave it stale until the snapshot
	// or the TurnStarted broadcast carries the real one.
}

// ---- transport ----

type stateResult struct {
	GameState *models.GameState `json:"game_state"`
}

type turnResult struct {
	Valid     bool              `json:"valid"`
	Errors    []string          `json:"errors,omitempty"`
	GameState *models.GameState `json:"game_state,omitempty"`
}

type chatResult struct {
	Message models.ChatMessage `json:"message"`
}

type eventsResult struct {
	Events   []events.GameEvent `json:"events"`
	Complete bool               `json:"complete"`
}

type errorResult struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// post issues one command request with a bounded deadline and decodes the
// response into out. Error payloads come back as typed engine errors.
func (s *Session) post(ctx context.Context, op, correlation string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}

	url := fmt.Sprintf("%s/api/rooms/%s/%s", s.cfg.BaseURL, s.cfg.RoomID, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	s.setHeaders(req, correlation)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s request: %w", op, context.DeadlineExceeded)
		}
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	// The turn endpoint reports rejections in-band with the same shape as
	// success, so decode it regardless of status.
	if _, isTurn := out.(*turnResult); isTurn || resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
		return nil
	}
	return decodeError(resp)
}

func (s *Session) fetchState(ctx context.Context) (*models.GameState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/rooms/%s/state", s.cfg.BaseURL, s.cfg.RoomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req, "")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var out stateResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.GameState == nil {
		return nil, interaction.NewError(interaction.KindNotFound, "room %s has no state", s.cfg.RoomID)
	}
	return out.GameState, nil
}

func (s *Session) fetchEventsSince(ctx context.Context, after uint64) ([]events.GameEvent, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/rooms/%s/events?after=%d", s.cfg.BaseURL, s.cfg.RoomID, after)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	s.setHeaders(req, "")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, false, decodeError(resp)
	}

	var out eventsResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, err
	}
	return out.Events, out.Complete, nil
}

func (s *Session) setHeaders(req *http.Request, correlation string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", s.cfg.UserID.String())
	if s.cfg.IsDM {
		req.Header.Set("X-Room-Role", "dm")
	}
	if correlation != "" {
		req.Header.Set("X-Correlation-Id", correlation)
	}
}

func decodeError(resp *http.Response) error {
	var body errorResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Kind == "" {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return &interaction.Error{
		Kind: interaction.ErrorKind(body.Error.Kind),
		Msg:  body.Error.Message,
	}
}

func errorFromTurnResult(resp turnResult) error {
	msg := "action rejected"
	if len(resp.Errors) > 0 {
		msg = strings.Join(resp.Errors, "; ")
	}
	kind := interaction.KindInvalidAction
	for _, k := range []interaction.ErrorKind{
		interaction.KindNotYourTurn,
		interaction.KindInvalidTransition,
		interaction.KindNotFound,
		interaction.KindForbidden,
	} {
		if strings.Contains(msg, string(k)) {
			kind = k
			break
		}
	}
	return &interaction.Error{Kind: kind, Msg: msg}
}
