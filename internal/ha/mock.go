package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockGateway implements Gateway in memory for testing
type MockGateway struct {
	statesMu sync.RWMutex
	states   map[string]*State
	order    []string
	history  map[string][]HistoryEntry

	callsMu sync.Mutex
	actions []Action
	queries []HistoryQuery

	// Err, when set, is returned by every call
	Err error
}

// HistoryQuery records one FetchHistory call
type HistoryQuery struct {
	EntityID string
	Start    time.Time
	End      time.Time
}

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway creates a new mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		states:  make(map[string]*State),
		history: make(map[string][]HistoryEntry),
	}
}

// SetState sets an entity state
func (m *MockGateway) SetState(entityID, state string, attributes map[string]any) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()

	if _, ok := m.states[entityID]; !ok {
		m.order = append(m.order, entityID)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	m.states[entityID] = &State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
}

// SetHistory sets the raw history returned for an entity
func (m *MockGateway) SetHistory(entityID string, entries []HistoryEntry) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	m.history[entityID] = entries
}

// FetchAllStates returns every state in insertion order
func (m *MockGateway) FetchAllStates(ctx context.Context) ([]State, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]State, 0, len(m.order))
	for _, id := range m.order {
		states = append(states, *m.states[id])
	}
	return states, nil
}

// FetchState returns one state or ErrNotFound
func (m *MockGateway) FetchState(ctx context.Context, entityID string) (*State, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	s := *state
	return &s, nil
}

// InvokeAction records the action
func (m *MockGateway) InvokeAction(ctx context.Context, action Action) (json.RawMessage, error) {
	m.callsMu.Lock()
	m.actions = append(m.actions, action)
	m.callsMu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return json.RawMessage("[]"), nil
}

// FetchHistory returns the numeric subset of the configured history
func (m *MockGateway) FetchHistory(ctx context.Context, entityID string, start, end time.Time) ([]HistoryPoint, error) {
	m.callsMu.Lock()
	m.queries = append(m.queries, HistoryQuery{EntityID: entityID, Start: start, End: end})
	m.callsMu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	return NumericHistory(m.history[entityID]), nil
}

// Actions returns every action invoked so far
func (m *MockGateway) Actions() []Action {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	return append([]Action(nil), m.actions...)
}

// HistoryQueries returns every history query so far
func (m *MockGateway) HistoryQueries() []HistoryQuery {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	return append([]HistoryQuery(nil), m.queries...)
}
