package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/interaction"
	"github.com/mcdev12/tabletop/go/internal/interaction/auth"
	"github.com/mcdev12/tabletop/go/internal/interaction/command"
	"github.com/mcdev12/tabletop/go/internal/interaction/events"
	"github.com/mcdev12/tabletop/go/internal/models"
	"github.com/rs/zerolog/log"
)

// CorrelationHeader carries the client's correlation id for a command; it is
// echoed on the events that command produces so the origin can reconcile its
// optimistic mutation.
const CorrelationHeader = "X-Correlation-Id"

// RoomStore is what the command API needs from the room store.
type RoomStore interface {
	CreateRoom(ctx context.Context, roomID, dmUserID uuid.UUID, settings *models.InteractionSettings) (*models.GameState, error)
	Apply(ctx context.Context, roomID uuid.UUID, cmd command.Command) (*models.GameState, []events.GameEvent, error)
	Snapshot(ctx context.Context, roomID uuid.UUID) (*models.GameState, error)
	EventsSince(roomID uuid.UUID, after uint64) ([]events.GameEvent, bool, error)
}

// CommandHandler serves the HTTP+JSON command channel.
type CommandHandler struct {
	store RoomStore
	auth  auth.Provider
}

// NewCommandHandler creates the command API handler.
func NewCommandHandler(store RoomStore, authProvider auth.Provider) *CommandHandler {
	return &CommandHandler{store: store, auth: authProvider}
}

// RegisterRoutes attaches the command API to mux.
func (h *CommandHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms", h.handleCreateRoom)
	mux.HandleFunc("/api/rooms/", h.handleRoomRequest)
}

type createRoomRequest struct {
	RoomID   *uuid.UUID                  `json:"room_id,omitempty"`
	Settings *models.InteractionSettings `json:"settings,omitempty"`
}

type stateResponse struct {
	GameState *models.GameState `json:"game_state"`
}

type joinRequest struct {
	Participant     models.ParticipantState `json:"participant"`
	InitiativeScore int                     `json:"initiative_score"`
}

type leaveRequest struct {
	EntityID uuid.UUID `json:"entity_id"`
}

type turnRequest struct {
	Action models.TurnAction `json:"action"`
}

type turnResponse struct {
	Valid     bool              `json:"valid"`
	Errors    []string          `json:"errors,omitempty"`
	GameState *models.GameState `json:"game_state,omitempty"`
}

type skipRequest struct {
	EntityID uuid.UUID `json:"entity_id"`
	Reason   string    `json:"reason"`
}

type chatRequest struct {
	Content    string             `json:"content"`
	Channel    models.ChatChannel `json:"channel"`
	Recipients []uuid.UUID        `json:"recipients,omitempty"`
	EntityID   *uuid.UUID         `json:"entity_id,omitempty"`
}

type chatResponse struct {
	Message models.ChatMessage `json:"message"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

type rollbackRequest struct {
	TurnNumber  int `json:"turn_number"`
	RoundNumber int `json:"round_number"`
}

type initiativeRequest struct {
	Order []models.InitiativeEntry `json:"order"`
}

type eventsResponse struct {
	Events   []events.GameEvent `json:"events"`
	Complete bool               `json:"complete"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *CommandHandler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, err := h.auth.Identify(r, uuid.Nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if !identity.IsDM {
		writeError(w, interaction.NewError(interaction.KindForbidden, "only a DM can create rooms"))
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}

	roomID := uuid.New()
	if req.RoomID != nil {
		roomID = *req.RoomID
	}

	st, err := h.store.CreateRoom(r.Context(), roomID, identity.UserID, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateResponse{GameState: st})
}

// handleRoomRequest routes /api/rooms/{id}/<op>.
func (h *CommandHandler) handleRoomRequest(w http.ResponseWriter, r *http.Request) {
	roomID, op, ok := splitRoomPath(r.URL.Path)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	identity, err := h.auth.Identify(r, roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	meta := command.Meta{
		ActorUserID: identity.UserID,
		IsDM:        identity.IsDM,
		Correlation: r.Header.Get(CorrelationHeader),
	}

	switch {
	case r.Method == http.MethodGet && op == "state":
		h.handleGetState(w, r, roomID)
	case r.Method == http.MethodGet && op == "events":
		h.handleGetEvents(w, r, roomID)
	case r.Method == http.MethodPost && op == "join":
		h.handleJoin(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "leave":
		h.handleLeave(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "start":
		h.applySimple(w, r, roomID, command.Start{Meta: meta})
	case r.Method == http.MethodPost && op == "turn":
		h.handleTurn(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "skip":
		h.handleSkip(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "chat":
		h.handleChat(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "pause":
		h.handlePause(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "resume":
		h.applySimple(w, r, roomID, command.Resume{Meta: meta})
	case r.Method == http.MethodPost && op == "rollback":
		h.handleRollback(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "initiative":
		h.handleInitiative(w, r, roomID, meta)
	case r.Method == http.MethodPost && op == "complete":
		h.applySimple(w, r, roomID, command.Complete{Meta: meta})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *CommandHandler) handleGetState(w http.ResponseWriter, r *http.Request, roomID uuid.UUID) {
	st, err := h.store.Snapshot(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{GameState: st})
}

func (h *CommandHandler) handleGetEvents(w http.ResponseWriter, r *http.Request, roomID uuid.UUID) {
	after, err := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "after query parameter must be a sequence number"))
		return
	}
	evs, complete, err := h.store.EventsSince(roomID, after)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: evs, Complete: complete})
}

func (h *CommandHandler) handleJoin(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}
	h.applyCommand(w, r, roomID, command.Join{
		Meta:            meta,
		Participant:     req.Participant,
		InitiativeScore: req.InitiativeScore,
	})
}

func (h *CommandHandler) handleLeave(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}
	h.applyCommand(w, r, roomID, command.Leave{Meta: meta, EntityID: req.EntityID})
}

// handleTurn reports validation failures in-band so clients can surface them
// as inline messages tied to the attempted action.
func (h *CommandHandler) handleTurn(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}

	st, _, err := h.store.Apply(r.Context(), roomID, command.TakeTurn{Meta: meta, Action: req.Action})
	if err != nil {
		status := statusForError(err)
		snapshot, snapErr := h.store.Snapshot(r.Context(), roomID)
		if snapErr != nil {
			snapshot = nil
		}
		writeJSON(w, status, turnResponse{
			Valid:     false,
			Errors:    []string{err.Error()},
			GameState: snapshot,
		})
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{Valid: true, GameState: st})
}

func (h *CommandHandler) handleSkip(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req skipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}
	h.applyCommand(w, r, roomID, command.SkipTurn{Meta: meta, EntityID: req.EntityID, Reason: req.Reason})
}

// handleChat returns the stored message rather than a full snapshot; the
// origin replaces its provisional entry in place.
func (h *CommandHandler) handleChat(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}

	st, _, err := h.store.Apply(r.Context(), roomID, command.SendChat{
		Meta:       meta,
		EntityID:   req.EntityID,
		Content:    req.Content,
		Channel:    req.Channel,
		Recipients: req.Recipients,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(st.ChatLog) == 0 {
		writeError(w, interaction.NewError(interaction.KindNotFound, "message not recorded"))
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Message: st.ChatLog[len(st.ChatLog)-1]})
}

func (h *CommandHandler) handlePause(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}
	h.applyCommand(w, r, roomID, command.Pause{Meta: meta, Reason: req.Reason})
}

func (h *CommandHandler) handleRollback(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}
	h.applyCommand(w, r, roomID, command.Rollback{
		Meta:        meta,
		TurnNumber:  req.TurnNumber,
		RoundNumber: req.RoundNumber,
	})
}

func (h *CommandHandler) handleInitiative(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, meta command.Meta) {
	var req initiativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, interaction.NewError(interaction.KindInvalidAction, "malformed request body"))
		return
	}
	h.applyCommand(w, r, roomID, command.UpdateInitiative{Meta: meta, Order: req.Order})
}

// applySimple handles body-less commands.
func (h *CommandHandler) applySimple(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, cmd command.Command) {
	h.applyCommand(w, r, roomID, cmd)
}

func (h *CommandHandler) applyCommand(w http.ResponseWriter, r *http.Request, roomID uuid.UUID, cmd command.Command) {
	st, _, err := h.store.Apply(r.Context(), roomID, cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{GameState: st})
}

// splitRoomPath parses /api/rooms/{id}/<op>.
func splitRoomPath(path string) (uuid.UUID, string, bool) {
	rest := strings.TrimPrefix(path, "/api/rooms/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		return uuid.Nil, "", false
	}
	roomID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", false
	}
	return roomID, parts[1], true
}

func statusForError(err error) int {
	kind, ok := interaction.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case interaction.KindNotFound:
		return http.StatusNotFound
	case interaction.KindForbidden:
		return http.StatusForbidden
	case interaction.KindInvalidAction:
		return http.StatusBadRequest
	case interaction.KindNotYourTurn, interaction.KindInvalidTransition, interaction.KindStale:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind, ok := interaction.KindOf(err)
	if !ok {
		log.Error().Err(err).Msg("command failed")
		kind = "INTERNAL"
	}
	writeJSON(w, statusForError(err), errorResponse{Error: errorBody{
		Kind:    string(kind),
		Message: err.Error(),
	}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
