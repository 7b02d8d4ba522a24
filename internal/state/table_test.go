package state

import (
	"fmt"
	"testing"

	"homedash/internal/config"
	"homedash/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptors(t *testing.T) *config.Descriptors {
	d, err := config.LoadDescriptors("", nopLogger)
	require.NoError(t, err)
	return d
}

func stateOf(id, value, updated string) ha.State {
	return ha.State{
		EntityID:    id,
		State:       value,
		Attributes:  map[string]any{},
		LastChanged: updated,
		LastUpdated: updated,
	}
}

func eventFrame(id, value, updated string) []byte {
	return []byte(fmt.Sprintf(`{"id":1,"type":"event","event":{"event_type":"state_changed","data":{"entity_id":%q,"new_state":{"entity_id":%q,"state":%q,"attributes":{"friendly_name":"x"},"last_changed":%q,"last_updated":%q},"old_state":null},"origin":"LOCAL","time_fired":%q}}`,
		id, id, value, updated, updated, updated))
}

func TestTable_ApplyKitchenSwitch(t *testing.T) {
	table := NewTable(testDescriptors(t)).
		Apply(stateOf("switch.lightswitch_kitchen_ceil", "off", "2024-01-01T09:00:00Z"))

	next, changed, err := table.ApplyEvent(eventFrame("switch.lightswitch_kitchen_ceil", "on", "2024-01-01T10:00:00Z"))
	require.NoError(t, err)
	require.True(t, changed)

	entry, ok := next.Get("switch.lightswitch_kitchen_ceil")
	require.True(t, ok)
	assert.Equal(t, "on", entry.State.State)
	assert.Equal(t, "2024-01-01T10:00:00Z", entry.State.LastUpdated)
	assert.Equal(t, "x", entry.State.Attributes["friendly_name"])
	assert.True(t, next.Lights()["switch.lightswitch_kitchen_ceil"])

	// the input table is untouched
	old, _ := table.Get("switch.lightswitch_kitchen_ceil")
	assert.Equal(t, "off", old.State.State)
	assert.False(t, table.Lights()["switch.lightswitch_kitchen_ceil"])
}

func TestTable_ApplyReplacesWholesale(t *testing.T) {
	first := stateOf("sensor.x", "1", "t1")
	first.Attributes = map[string]any{"battery": 90}
	second := stateOf("sensor.x", "2", "t2")

	table := NewTable(nil).Apply(first).Apply(second)

	entry, _ := table.Get("sensor.x")
	assert.Equal(t, "2", entry.State.State)
	assert.NotContains(t, entry.State.Attributes, "battery")
	assert.Equal(t, 1, table.Len())
}

func TestTable_ReplayIsIdempotent(t *testing.T) {
	frames := [][]byte{
		eventFrame("switch.lightswitch_office", "on", "t1"),
		eventFrame("sensor.sensor_temperature_office_temperature", "21.5", "t2"),
		eventFrame("switch.lightswitch_office", "off", "t3"),
		eventFrame("light.porch", "on", "t4"),
	}

	once := NewTable(testDescriptors(t))
	twice := once
	for _, f := range frames {
		var err error
		once, _, err = once.ApplyEvent(f)
		require.NoError(t, err)

		twice, _, err = twice.ApplyEvent(f)
		require.NoError(t, err)
		twice, _, err = twice.ApplyEvent(f)
		require.NoError(t, err)
	}

	assert.Equal(t, once.States(), twice.States())
	assert.Equal(t, once.Lights(), twice.Lights())
	assert.Equal(t, map[string]bool{"switch.lightswitch_office": false, "light.porch": true}, once.Lights())
}

func TestTable_LightProjection(t *testing.T) {
	table := NewTable(nil).ApplyAll([]ha.State{
		stateOf("switch.a", "on", ""),
		stateOf("light.b", "unavailable", ""),
		stateOf("sensor.c", "on", ""),
		stateOf("binary_sensor.d", "on", ""),
	})

	assert.Equal(t, map[string]bool{"switch.a": true, "light.b": false}, table.Lights())
	assert.Equal(t, 1, table.LightsOn())
}

func TestTable_UndescribedEntityIsStored(t *testing.T) {
	table := NewTable(testDescriptors(t)).Apply(stateOf("sensor.mystery", "3", ""))

	entry, ok := table.Get("sensor.mystery")
	require.True(t, ok)
	assert.Nil(t, entry.Descriptor)
}

func TestTable_ApplyEventIgnoresNonStateFrames(t *testing.T) {
	table := NewTable(nil).Apply(stateOf("switch.a", "on", ""))

	frames := []string{
		`{"type":"connected"}`,
		`{"type":"error","error":"max_retries_exceeded"}`,
		`{"id":1,"type":"result","success":true}`,
		`{"id":1,"type":"event","event":{"event_type":"call_service","data":{}}}`,
		`{"id":1,"type":"event","event":{"event_type":"state_changed","data":{"entity_id":"switch.a","new_state":null}}}`,
	}

	for _, f := range frames {
		next, changed, err := table.ApplyEvent([]byte(f))
		require.NoError(t, err, f)
		assert.False(t, changed, f)
		assert.Equal(t, table.States(), next.States())
	}
}

func TestTable_ApplyEventMalformed(t *testing.T) {
	table := NewTable(nil)

	_, changed, err := table.ApplyEvent([]byte("{nope"))
	assert.ErrorIs(t, err, ha.ErrMalformedMessage)
	assert.False(t, changed)

	_, _, err = table.ApplyEvent([]byte(`{"type":"event","event":{"event_type":"state_changed","data":"oops"}}`))
	assert.ErrorIs(t, err, ha.ErrMalformedMessage)
}

func TestTable_ApplyEventFallsBackToEventEntityID(t *testing.T) {
	frame := `{"type":"event","event":{"event_type":"state_changed","data":{"entity_id":"sensor.x","new_state":{"state":"5"}}}}`

	table, changed, err := NewTable(nil).ApplyEvent([]byte(frame))
	require.NoError(t, err)
	assert.True(t, changed)

	entry, ok := table.Get("sensor.x")
	require.True(t, ok)
	assert.Equal(t, "5", entry.State.State)
}

func TestTable_StatesSorted(t *testing.T) {
	table := NewTable(nil).ApplyAll([]ha.State{stateOf("sensor.b", "1", ""), stateOf("sensor.a", "2", "")})

	states := table.States()
	require.Len(t, states, 2)
	assert.Equal(t, "sensor.a", states[0].EntityID)
	assert.Equal(t, "sensor.b", states[1].EntityID)
}
