package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/tabletop/go/internal/interaction/auth"
	"github.com/rs/zerolog/log"
)

// Service bundles the WebSocket fan-out and the command API into one
// mountable unit.
type Service struct {
	connectionManager *ConnectionManager
	eventConsumer     EventConsumer
	commandHandler    *CommandHandler
	auth              auth.Provider
}

// NewService creates a gateway service. The connection manager is built by
// the caller so the event consumer can be bound to it first.
func NewService(cm *ConnectionManager, consumer EventConsumer, store RoomStore, authProvider auth.Provider) *Service {
	return &Service{
		connectionManager: cm,
		eventConsumer:     consumer,
		commandHandler:    NewCommandHandler(store, authProvider),
		auth:              authProvider,
	}
}

// ConnectionManager exposes the underlying manager so deployments can pick a
// consumer implementation before calling Start.
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}

// Start runs the fan-out and the event consumer until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting interaction gateway service")

	go s.connectionManager.Start(ctx)
	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("interaction gateway service shutting down")
	return s.eventConsumer.Stop()
}

// RegisterRoutes mounts the command API, the WebSocket endpoint, and the
// stats endpoint on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.commandHandler.RegisterRoutes(mux)
	mux.HandleFunc("/ws/rooms/", s.handleRoomSocket)
	mux.HandleFunc("/ws/stats", s.handleStats)
	log.Info().Msg("interaction gateway routes registered")
}

// handleRoomSocket serves GET /ws/rooms/{id}: the per-room event stream.
func (s *Service) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/rooms/"), "/")
	roomID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	identity, err := s.auth.Identify(r, roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.connectionManager.UpgradeConnection(w, r, identity.UserID, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to upgrade WebSocket connection")
	}
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.connectionManager.Stats()
	stats["service"] = "interaction_gateway"
	writeJSON(w, http.StatusOK, stats)
}
