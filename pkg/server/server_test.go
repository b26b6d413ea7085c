package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovalle/stateflow/internal/database"
	"github.com/ovalle/stateflow/pkg/completion"
	"github.com/ovalle/stateflow/pkg/conversation"
	"github.com/ovalle/stateflow/pkg/engine"
	"github.com/ovalle/stateflow/pkg/graph"
	"github.com/ovalle/stateflow/pkg/intent"
	"github.com/ovalle/stateflow/pkg/tools"
)

type scriptedProvider struct {
	reply string
}

func (p *scriptedProvider) Name() string { return "openai" }

func (p *scriptedProvider) Complete(ctx context.Context, req completion.Request) (string, error) {
	// The classifier sends a single system turn; a turn reply sends three.
	if len(req.Messages) == 1 {
		return `{"changeState": false}`, nil
	}
	return p.reply, nil
}

type testEnv struct {
	srv      *httptest.Server
	graph    graph.Store
	sessions *conversation.Manager
	agent    *graph.Agent
	start    *graph.State
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	graphStore, err := graph.NewSQLiteStore(db)
	require.NoError(t, err)
	convStore, err := conversation.NewSQLiteStore(db)
	require.NoError(t, err)
	sessions := conversation.NewManager(convStore)

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.WeatherDefinition()))

	provider := &scriptedProvider{reply: "happy to help"}
	gateway, err := completion.NewGateway(provider, nil, registry, time.Minute)
	require.NoError(t, err)

	classifier := intent.NewClassifier(gateway, 30*time.Second)
	picker := completion.NewPicker("gpt-3.5-turbo", []string{"gpt-4", "gpt-4o-mini", "gpt-4o"})
	orch := engine.NewOrchestrator(graphStore, sessions, gateway, classifier, picker)

	s, err := NewServer(Config{
		Port:       8090,
		Graph:      graphStore,
		Sessions:   sessions,
		Engine:     orch,
		Classifier: classifier,
		Picker:     picker,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	agent, start, err := graphStore.CreateAgent(context.Background(), "support", "be helpful")
	require.NoError(t, err)

	return &testEnv{srv: srv, graph: graphStore, sessions: sessions, agent: agent, start: start}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestCreateAndListAgents(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/agents", map[string]string{
		"name":         "sales",
		"globalPrompt": "sell things",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Agent        graph.Agent `json:"agent"`
		InitialState graph.State `json:"initialState"`
	}
	decodeInto(t, resp, &created)
	assert.Equal(t, "sales", created.Agent.Name)
	assert.True(t, created.InitialState.IsStart)
	assert.Equal(t, "State 1", created.InitialState.Name)

	resp = e.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agents []graph.Agent
	decodeInto(t, resp, &agents)
	assert.Len(t, agents, 2)
}

func TestCreateAgentValidation(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/agents", map[string]string{"name": "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateAgent(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPatch, fmt.Sprintf("/api/agents/%d", e.agent.ID), map[string]string{
		"model": "gpt-4o",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agent graph.Agent
	decodeInto(t, resp, &agent)
	assert.Equal(t, "gpt-4o", agent.Model)
	assert.Equal(t, e.agent.Name, agent.Name, "name untouched by partial update")

	resp = e.do(t, http.MethodPatch, "/api/agents/9999", map[string]string{"model": "gpt-4"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStateLifecycle(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/agents/%d/states", e.agent.ID), map[string]interface{}{
		"name":     "Billing",
		"prompt":   "handle billing",
		"position": map[string]float64{"x": 400, "y": 100},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var billing graph.State
	decodeInto(t, resp, &billing)

	resp = e.do(t, http.MethodPost, "/api/edges", map[string]interface{}{
		"agentId":     e.agent.ID,
		"fromStateId": e.start.ID,
		"toStateId":   billing.ID,
		"condition":   "billing",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/agents/%d/states", e.agent.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var states []graph.StateWithTransitions
	decodeInto(t, resp, &states)
	require.Len(t, states, 2)
	var startRow *graph.StateWithTransitions
	for i := range states {
		if states[i].ID == e.start.ID {
			startRow = &states[i]
		}
	}
	require.NotNil(t, startRow)
	require.Len(t, startRow.Transitions, 1)
	assert.Equal(t, "billing", startRow.Transitions[0].Condition)
	assert.Equal(t, "Billing", startRow.Transitions[0].Name)

	resp = e.do(t, http.MethodPatch, fmt.Sprintf("/api/states/%d", billing.ID), map[string]interface{}{
		"prompt": "handle billing questions",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated graph.State
	decodeInto(t, resp, &updated)
	assert.Equal(t, "handle billing questions", updated.Prompt)
	assert.Equal(t, "Billing", updated.Name)

	resp = e.do(t, http.MethodPut, fmt.Sprintf("/api/states/%d/position", billing.ID), map[string]float64{
		"x": 10, "y": 20,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodDelete, fmt.Sprintf("/api/states/%d", billing.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodDelete, fmt.Sprintf("/api/states/%d", billing.ID), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateStateReplacesTransitions(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, fmt.Sprintf("/api/agents/%d/states", e.agent.ID), map[string]interface{}{
		"name": "Other", "prompt": "p",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var other graph.State
	decodeInto(t, resp, &other)

	resp = e.do(t, http.MethodPatch, fmt.Sprintf("/api/states/%d", e.start.ID), map[string]interface{}{
		"transitions": []map[string]interface{}{
			{"nextState": other.ID, "condition": "switch"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/agents/%d/states", e.agent.ID), nil)
	var states []graph.StateWithTransitions
	decodeInto(t, resp, &states)
	for _, st := range states {
		if st.ID == e.start.ID {
			require.Len(t, st.Transitions, 1)
			assert.Equal(t, "switch", st.Transitions[0].Condition)
		}
	}
}

func TestTurnEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/turns", map[string]interface{}{
		"agentId":     e.agent.ID,
		"stateId":     e.start.ID,
		"userMessage": "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turn engine.TurnResponse
	decodeInto(t, resp, &turn)
	require.Len(t, turn.Responses, 2)
	assert.Equal(t, "happy to help", turn.Responses[0].Text)
	assert.True(t, strings.HasPrefix(turn.Responses[1].Text, "State: "))
	assert.False(t, turn.Closed)
	assert.NotZero(t, turn.ConversationID)
}

func TestTurnEndpointNotFound(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/turns", map[string]interface{}{
		"agentId":     int64(9999),
		"stateId":     e.start.ID,
		"userMessage": "hello",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTurnEndpointValidation(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/turns", map[string]interface{}{
		"agentId": e.agent.ID,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntentEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/intent", map[string]string{
		"userMessage": "I want billing",
		"statePrompt": "greet",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result intent.Result
	decodeInto(t, resp, &result)
	assert.False(t, result.ChangeState)
}

func TestConversationEndpoints(t *testing.T) {
	e := newTestEnv(t)

	// Seed one conversation through a turn.
	resp := e.do(t, http.MethodPost, "/api/turns", map[string]interface{}{
		"agentId":     e.agent.ID,
		"stateId":     e.start.ID,
		"userMessage": "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var turn engine.TurnResponse
	decodeInto(t, resp, &turn)

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/conversations?agentId=%d", e.agent.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var convs []conversation.Conversation
	decodeInto(t, resp, &convs)
	require.Len(t, convs, 1)
	assert.False(t, convs[0].Closed)

	resp = e.do(t, http.MethodPatch, fmt.Sprintf("/api/conversations/%d/close", turn.ConversationID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	closed := "true"
	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/conversations?agentId=%d&closed=%s", e.agent.ID, closed), nil)
	decodeInto(t, resp, &convs)
	require.Len(t, convs, 1)
	assert.True(t, convs[0].Closed)

	resp = e.do(t, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", turn.ConversationID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = e.do(t, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", turn.ConversationID), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWeatherEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/weather?city=Lisbon", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report tools.WeatherReport
	decodeInto(t, resp, &report)
	assert.Equal(t, "Lisbon", report.City)
	assert.Equal(t, "Sunny", report.Weather)

	resp = e.do(t, http.MethodGet, "/api/weather", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/healthz", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2 := e.do(t, http.MethodGet, "/metrics", nil)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/healthz", nil)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestChatSocket(t *testing.T) {
	e := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(engine.TurnRequest{
		AgentID:     e.agent.ID,
		StateID:     e.start.ID,
		UserMessage: "hello",
	}))

	var turn engine.TurnResponse
	require.NoError(t, conn.ReadJSON(&turn))
	require.Len(t, turn.Responses, 2)
	assert.Equal(t, "happy to help", turn.Responses[0].Text)

	// A malformed frame yields an error payload, not a dropped socket.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var chatErr map[string]string
	require.NoError(t, conn.ReadJSON(&chatErr))
	assert.NotEmpty(t, chatErr["error"])
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8090})
	assert.Error(t, err)
}
