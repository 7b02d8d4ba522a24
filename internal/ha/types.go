package ha

import (
	"encoding/json"
	"strings"
)

// Push channel message types
const (
	TypeAuthRequired    = "auth_required"
	TypeAuth            = "auth"
	TypeAuthOK          = "auth_ok"
	TypeAuthInvalid     = "auth_invalid"
	TypeSubscribeEvents = "subscribe_events"
	TypeResult          = "result"
	TypeEvent           = "event"

	EventStateChanged = "state_changed"
)

// Message represents a base WebSocket message to/from Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
}

// IsAuth reports whether the message belongs to the authentication exchange
func (m *Message) IsAuth() bool {
	return strings.HasPrefix(m.Type, "auth")
}

// Error represents an error response from Home Assistant
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event represents an event message from Home Assistant
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin,omitempty"`
	TimeFired string          `json:"time_fired,omitempty"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State represents an entity state.
//
// Timestamps are kept as the hub sent them so relayed and proxied payloads
// stay byte-compatible with what the hub emitted.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
	Context     *Context       `json:"context,omitempty"`
}

// Domain returns the entity domain, the part of the id before the first dot
func (s *State) Domain() string {
	return Domain(s.EntityID)
}

// Context represents the context of a state change
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// SubscribeEventsRequest represents a subscribe_events request
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// Action is a service call against the hub
type Action struct {
	Domain     string
	Service    string
	Targets    []string
	Parameters map[string]any
}

// Body builds the JSON body posted to /api/services/{domain}/{service}.
// A single target is sent as a plain string, several as a list.
func (a Action) Body() map[string]any {
	body := make(map[string]any, len(a.Parameters)+1)
	for k, v := range a.Parameters {
		body[k] = v
	}
	switch len(a.Targets) {
	case 0:
	case 1:
		body["entity_id"] = a.Targets[0]
	default:
		body["entity_id"] = append([]string(nil), a.Targets...)
	}
	return body
}

// HistoryPoint is one numeric sample from the hub's history API
type HistoryPoint struct {
	Timestamp   int64   `json:"timestamp"`
	Value       float64 `json:"value"`
	State       string  `json:"state"`
	LastUpdated string  `json:"last_updated"`
}

// Domain returns the domain prefix of an entity id, or "" if it has none
func Domain(entityID string) string {
	domain, _, ok := strings.Cut(entityID, ".")
	if !ok {
		return ""
	}
	return domain
}
