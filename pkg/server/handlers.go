package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ovalle/stateflow/pkg/conversation"
	"github.com/ovalle/stateflow/pkg/engine"
	"github.com/ovalle/stateflow/pkg/graph"
	"github.com/ovalle/stateflow/pkg/tools"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondStoreError maps storage sentinels to 404 and everything else to
// a generic 500 without leaking internals.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrAgentNotFound),
		errors.Is(err, graph.ErrStateNotFound),
		errors.Is(err, conversation.ErrConversationNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "failed to process request")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// --- agents ---

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		GlobalPrompt string `json:"globalPrompt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.GlobalPrompt == "" {
		respondError(w, http.StatusBadRequest, "name and globalPrompt are required")
		return
	}

	agent, initialState, err := s.cfg.Graph.CreateAgent(r.Context(), req.Name, req.GlobalPrompt)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"agent":        agent,
		"initialState": initialState,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.cfg.Graph.ListAgents(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "agentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req struct {
		Name         *string `json:"name"`
		GlobalPrompt *string `json:"globalPrompt"`
		Model        *string `json:"model"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	agent, err := s.cfg.Graph.UpdateAgent(r.Context(), id, graph.AgentUpdate{
		Name:         req.Name,
		GlobalPrompt: req.GlobalPrompt,
		Model:        req.Model,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// --- states ---

func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r, "agentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	states, err := s.cfg.Graph.StatesWithTransitions(r.Context(), agentID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, states)
}

func (s *Server) handleCreateState(w http.ResponseWriter, r *http.Request) {
	agentID, err := pathID(r, "agentID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req struct {
		Name        string            `json:"name"`
		Prompt      string            `json:"prompt"`
		IsStart     bool              `json:"isStart"`
		IsEnd       bool              `json:"isEnd"`
		Position    graph.Position    `json:"position"`
		Transitions []graph.EdgeInput `json:"transitions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	state, err := s.cfg.Graph.CreateState(r.Context(), &graph.State{
		AgentID:  agentID,
		Name:     req.Name,
		Prompt:   req.Prompt,
		IsStart:  req.IsStart,
		IsEnd:    req.IsEnd,
		Position: req.Position,
	}, req.Transitions)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, state)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "stateID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid state id")
		return
	}

	var req struct {
		Name        *string            `json:"name"`
		Prompt      *string            `json:"prompt"`
		IsStart     *bool              `json:"isStart"`
		IsEnd       *bool              `json:"isEnd"`
		Position    *graph.Position    `json:"position"`
		Transitions *[]graph.EdgeInput `json:"transitions"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.cfg.Graph.UpdateState(r.Context(), id, graph.StateUpdate{
		Name:     req.Name,
		Prompt:   req.Prompt,
		IsStart:  req.IsStart,
		IsEnd:    req.IsEnd,
		Position: req.Position,
	}); err != nil {
		respondStoreError(w, err)
		return
	}

	if req.Transitions != nil {
		state, err := s.cfg.Graph.GetState(r.Context(), id)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if err := s.cfg.Graph.ReplaceEdgesFrom(r.Context(), id, state.AgentID, *req.Transitions); err != nil {
			respondStoreError(w, err)
			return
		}
	}

	state, err := s.cfg.Graph.GetState(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleUpdatePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "stateID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid state id")
		return
	}

	var pos graph.Position
	if !decodeBody(w, r, &pos) {
		return
	}

	if err := s.cfg.Graph.UpdateStatePosition(r.Context(), id, pos); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "stateID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid state id")
		return
	}

	if err := s.cfg.Graph.DeleteState(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- edges ---

func (s *Server) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     int64  `json:"agentId"`
		FromStateID int64  `json:"fromStateId"`
		ToStateID   int64  `json:"toStateId"`
		Condition   string `json:"condition"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == 0 || req.FromStateID == 0 || req.ToStateID == 0 || req.Condition == "" {
		respondError(w, http.StatusBadRequest, "agentId, fromStateId, toStateId and condition are required")
		return
	}

	edge, err := s.cfg.Graph.CreateEdge(r.Context(), &graph.Edge{
		AgentID:     req.AgentID,
		FromStateID: req.FromStateID,
		ToStateID:   req.ToStateID,
		Condition:   req.Condition,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, edge)
}

// --- conversations ---

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := conversation.Filter{
		Keyword:  q.Get("keyword"),
		SortDesc: q.Get("sort") == "desc",
	}
	if v := q.Get("agentId"); v != "" {
		agentID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid agentId")
			return
		}
		filter.AgentID = agentID
	}
	if v := q.Get("closed"); v != "" {
		closed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid closed flag")
			return
		}
		filter.Closed = &closed
	}

	convs, err := s.cfg.Sessions.List(r.Context(), filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "conversationID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := s.cfg.Sessions.Close(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "conversationID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := s.cfg.Sessions.Delete(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- turns ---

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req engine.TurnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == 0 || req.StateID == 0 || req.UserMessage == "" {
		respondError(w, http.StatusBadRequest, "agentId, stateId and userMessage are required")
		return
	}

	resp, err := s.cfg.Engine.RunTurn(r.Context(), req)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// --- intent ---

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserMessage string `json:"userMessage"`
		StatePrompt string `json:"statePrompt"`
		Model       string `json:"model,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserMessage == "" {
		respondError(w, http.StatusBadRequest, "userMessage is required")
		return
	}

	model := s.cfg.Picker.Resolve(req.Model)
	result := s.cfg.Classifier.Classify(r.Context(), req.UserMessage, req.StatePrompt, model)
	respondJSON(w, http.StatusOK, result)
}

// --- weather ---

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		respondError(w, http.StatusBadRequest, "City is required")
		return
	}
	respondJSON(w, http.StatusOK, tools.LookupWeather(city))
}
