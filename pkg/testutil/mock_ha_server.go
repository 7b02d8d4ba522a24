// Package testutil provides a fake Home Assistant hub for tests.
// The hub speaks both the REST API (states, services, history) and the
// WebSocket push channel (auth, subscribe_events, state_changed events).
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	subscribed bool
}

func (w *connWrapper) writeJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *connWrapper) writeRaw(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// EntityState represents a Home Assistant entity state
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

// HistoryEntry is one record served by /api/history/period
type HistoryEntry struct {
	EntityID    string `json:"entity_id,omitempty"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed,omitempty"`
	LastUpdated string `json:"last_updated"`
}

// HistoryQuery records the parameters of a history request
type HistoryQuery struct {
	Start    string
	End      string
	EntityID string
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a Home Assistant event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired string          `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// MockHAServer simulates a Home Assistant hub
type MockHAServer struct {
	server *httptest.Server
	token  string

	statesMu sync.RWMutex
	states   map[string]*EntityState
	order    []string
	history  map[string][]HistoryEntry
	queries  []HistoryQuery

	connsMu     sync.Mutex
	connections []*connWrapper
	dials       int
	rejectAuth  bool

	callsMu       sync.Mutex
	serviceCalls  []ServiceCall
	serviceStatus int
	serviceBody   string
}

// NewMockHAServer starts a fake hub that accepts the given token.
// Call Close when done.
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:   token,
		states:  make(map[string]*EntityState),
		history: make(map[string][]HistoryEntry),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	mux.HandleFunc("GET /api/states", s.authorized(s.handleGetStates))
	mux.HandleFunc("GET /api/states/{entity_id}", s.authorized(s.handleGetState))
	mux.HandleFunc("POST /api/services/{domain}/{service}", s.authorized(s.handleCallService))
	mux.HandleFunc("GET /api/history/period/{start}", s.authorized(s.handleHistory))

	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the http base URL of the hub
func (s *MockHAServer) URL() string {
	return s.server.URL
}

// Close stops the server and drops every connection
func (s *MockHAServer) Close() {
	s.DropConnections()
	s.server.Close()
}

// SetRejectAuth makes the push channel answer auth_invalid for every token
func (s *MockHAServer) SetRejectAuth(reject bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.rejectAuth = reject
}

// SetServiceResponse makes service calls fail with status and body; status 0 restores success
func (s *MockHAServer) SetServiceResponse(status int, body string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceStatus = status
	s.serviceBody = body
}

// SetHistory sets the entries returned for entityID by the history API
func (s *MockHAServer) SetHistory(entityID string, entries []HistoryEntry) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	s.history[entityID] = entries
}

// HistoryQueries returns every history request received
func (s *MockHAServer) HistoryQueries() []HistoryQuery {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return append([]HistoryQuery(nil), s.queries...)
}

// SetState sets a state and broadcasts a state_changed event to subscribers
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]any) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	s.statesMu.Lock()
	oldState := s.states[entityID]
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	if oldState == nil {
		s.order = append(s.order, entityID)
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// SendRaw writes a raw frame to every subscribed connection
func (s *MockHAServer) SendRaw(frame []byte) {
	for _, wrapper := range s.subscribers() {
		_ = wrapper.writeRaw(frame)
	}
}

// DropConnections closes every open push channel connection
func (s *MockHAServer) DropConnections() {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()
}

// Subscribers returns the number of connections subscribed to state_changed
func (s *MockHAServer) Subscribers() int {
	return len(s.subscribers())
}

// Dials returns how many push channel connections were accepted
func (s *MockHAServer) Dials() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return s.dials
}

func (s *MockHAServer) subscribers() []*connWrapper {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	var subs []*connWrapper
	for _, wrapper := range s.connections {
		if wrapper.subscribed {
			subs = append(subs, wrapper)
		}
	}
	return subs
}

func (s *MockHAServer) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "401: Unauthorized"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *MockHAServer) handleGetStates(w http.ResponseWriter, r *http.Request) {
	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.order))
	for _, id := range s.order {
		states = append(states, s.states[id])
	}
	s.statesMu.RUnlock()

	writeJSON(w, http.StatusOK, states)
}

func (s *MockHAServer) handleGetState(w http.ResponseWriter, r *http.Request) {
	state := s.GetState(r.PathValue("entity_id"))
	if state == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Entity not found."})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *MockHAServer) handleCallService(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid JSON specified."})
		return
	}

	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      r.PathValue("domain"),
		Service:     r.PathValue("service"),
		ServiceData: data,
	})
	status, body := s.serviceStatus, s.serviceBody
	s.callsMu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}
	writeJSON(w, http.StatusOK, []any{})
}

func (s *MockHAServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("filter_entity_id")

	s.statesMu.Lock()
	s.queries = append(s.queries, HistoryQuery{
		Start:    r.PathValue("start"),
		End:      r.URL.Query().Get("end_time"),
		EntityID: entityID,
	})
	entries, ok := s.history[entityID]
	s.statesMu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, [][]HistoryEntry{})
		return
	}
	writeJSON(w, http.StatusOK, [][]HistoryEntry{entries})
}

// handleWebSocket runs the push channel protocol for one connection
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wrapper := &connWrapper{conn: conn}

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.dials++
	rejectAuth := s.rejectAuth
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	if err := wrapper.writeJSON(Message{Type: "auth_required"}); err != nil {
		return
	}

	var authMsg AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		return
	}

	if rejectAuth || authMsg.AccessToken != s.token {
		_ = wrapper.writeJSON(Message{Type: "auth_invalid"})
		return
	}

	if err := wrapper.writeJSON(Message{Type: "auth_ok"}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req SubscribeEventsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if strings.EqualFold(req.Type, "subscribe_events") {
			success := true
			s.connsMu.Lock()
			wrapper.subscribed = true
			s.connsMu.Unlock()
			_ = wrapper.writeJSON(Message{ID: req.ID, Type: "result", Success: &success})
		}
	}
}

// broadcastStateChange broadcasts a state change event to all subscribed connections
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	eventData, _ := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := Message{
		Type: "event",
		ID:   1,
		Event: &Event{
			EventType: "state_changed",
			Data:      eventData,
			Origin:    "LOCAL",
			TimeFired: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	for _, wrapper := range s.subscribers() {
		_ = wrapper.writeJSON(msg)
	}
}

// GetServiceCalls returns all service calls received
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}
