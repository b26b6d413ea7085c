package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ovalle/stateflow/pkg/engine"
)

// chatError is sent back over the socket for a failed turn.
type chatError struct {
	Error string `json:"error"`
}

// handleChatSocket runs a chat session over a websocket. Each inbound
// frame is a turn request; each outbound frame is the turn response or
// an error. Frames are processed in order, so turns for the session
// arrive at the engine already serialized.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	log.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Chat client connected")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("client_id", clientID).Msg("Chat socket read failed")
			}
			break
		}

		var req engine.TurnRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.writeChat(conn, clientID, chatError{Error: "invalid turn request"})
			continue
		}
		if req.AgentID == 0 || req.StateID == 0 || req.UserMessage == "" {
			s.writeChat(conn, clientID, chatError{Error: "agentId, stateId and userMessage are required"})
			continue
		}

		resp, err := s.cfg.Engine.RunTurn(r.Context(), req)
		if err != nil {
			log.Error().Err(err).Str("client_id", clientID).Msg("Turn failed")
			s.writeChat(conn, clientID, chatError{Error: "failed to process message"})
			continue
		}

		s.writeChat(conn, clientID, resp)
	}

	log.Info().Str("client_id", clientID).Msg("Chat client disconnected")
}

func (s *Server) writeChat(conn *websocket.Conn, clientID string, v interface{}) {
	if err := conn.WriteJSON(v); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("Chat socket write failed")
	}
}
