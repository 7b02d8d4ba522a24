// Package state mirrors hub entity state in memory and derives the
// dashboard's views from it.
//
// Table is immutable: Apply returns a new table and never changes the
// receiver, so a snapshot can be read from any goroutine without locking.
package state

import (
	"encoding/json"
	"fmt"
	"sort"

	"homedash/internal/config"
	"homedash/internal/ha"
)

// Entry is the cached record for one entity
type Entry struct {
	State      ha.State
	Descriptor *config.Descriptor
}

// Table is the last-known state of every entity seen so far
type Table struct {
	entries     map[string]Entry
	lights      map[string]bool
	descriptors *config.Descriptors
}

// NewTable creates an empty table decorated by descriptors (may be nil)
func NewTable(descriptors *config.Descriptors) Table {
	return Table{
		entries:     map[string]Entry{},
		lights:      map[string]bool{},
		descriptors: descriptors,
	}
}

// Apply returns a table in which the record for s.EntityID is replaced
// wholesale by s. Lights keep their on/off projection in step with the record.
func (t Table) Apply(s ha.State) Table {
	next := Table{
		entries:     make(map[string]Entry, len(t.entries)+1),
		lights:      make(map[string]bool, len(t.lights)+1),
		descriptors: t.descriptors,
	}
	for k, v := range t.entries {
		next.entries[k] = v
	}
	for k, v := range t.lights {
		next.lights[k] = v
	}

	entry := Entry{State: s}
	if desc, ok := t.descriptor(s.EntityID); ok {
		entry.Descriptor = &desc
	}
	next.entries[s.EntityID] = entry

	if config.IsLightDomain(ha.Domain(s.EntityID)) {
		next.lights[s.EntityID] = s.State == "on"
	}
	return next
}

// ApplyAll folds states into the table in order
func (t Table) ApplyAll(states []ha.State) Table {
	for _, s := range states {
		t = t.Apply(s)
	}
	return t
}

// ApplyEvent decodes one relayed hub frame and applies its new state.
// Frames that carry no state change, including the bridge's own
// notifications and entity removals, leave the table unchanged and report false.
func (t Table) ApplyEvent(raw []byte) (Table, bool, error) {
	var msg ha.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return t, false, fmt.Errorf("%w: %v", ha.ErrMalformedMessage, err)
	}
	if msg.Type != ha.TypeEvent || msg.Event == nil || msg.Event.EventType != ha.EventStateChanged {
		return t, false, nil
	}

	var changed ha.StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &changed); err != nil {
		return t, false, fmt.Errorf("%w: state_changed data: %v", ha.ErrMalformedMessage, err)
	}
	if changed.NewState == nil {
		return t, false, nil
	}

	s := *changed.NewState
	if s.EntityID == "" {
		s.EntityID = changed.EntityID
	}
	if s.EntityID == "" {
		return t, false, fmt.Errorf("%w: state_changed without entity_id", ha.ErrMalformedMessage)
	}
	return t.Apply(s), true, nil
}

func (t Table) descriptor(entityID string) (config.Descriptor, bool) {
	if t.descriptors == nil {
		return config.Descriptor{}, false
	}
	return t.descriptors.Get(entityID)
}

// Get returns the record for entityID
func (t Table) Get(entityID string) (Entry, bool) {
	e, ok := t.entries[entityID]
	return e, ok
}

// Len returns the number of cached entities
func (t Table) Len() int {
	return len(t.entries)
}

// States returns every cached state ordered by entity id
func (t Table) States() []ha.State {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	states := make([]ha.State, 0, len(ids))
	for _, id := range ids {
		states = append(states, t.entries[id].State)
	}
	return states
}

// Lights returns the on/off projection of every switch and light
func (t Table) Lights() map[string]bool {
	out := make(map[string]bool, len(t.lights))
	for k, v := range t.lights {
		out[k] = v
	}
	return out
}

// LightsOn counts projected lights that are on
func (t Table) LightsOn() int {
	n := 0
	for _, on := range t.lights {
		if on {
			n++
		}
	}
	return n
}

// Descriptors returns the descriptor table the entries are decorated with
func (t Table) Descriptors() *config.Descriptors {
	return t.descriptors
}
