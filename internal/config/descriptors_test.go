package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeDescriptors(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "descriptors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDescriptors_BuiltIn(t *testing.T) {
	d, err := LoadDescriptors("", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 20, d.Len())

	desc, ok := d.Get("sensor.sensor_temperature_kitchen_temperature")
	require.True(t, ok)
	assert.Equal(t, "Kitchen Temperature", desc.Label)
	assert.Equal(t, "°C", desc.Unit)
	assert.Equal(t, "thermometer", desc.Icon)
	assert.Equal(t, "kitchen", desc.Room)

	lights := d.Lights()
	assert.Len(t, lights, 7)
	assert.Equal(t, "switch.lightswitch_lobby", lights[0])

	assert.Equal(t, []string{"lobby", "living", "office", "bedroom", "kitchen", "yard"}, d.Rooms())
	assert.Len(t, d.InRoom("kitchen"), 4)
}

func TestLoadDescriptors_File(t *testing.T) {
	path := writeDescriptors(t, `descriptors:
  - entity_id: sensor.garage_temperature
    label: Garage
    unit: "°C"
    icon: thermometer
    room: garage
  - entity_id: light.garage
    label: Garage Light
    room: garage
`)

	d, err := LoadDescriptors(path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []string{"light.garage"}, d.Lights())

	desc, ok := d.Get("sensor.garage_temperature")
	require.True(t, ok)
	assert.Equal(t, "°C", desc.Unit)

	_, ok = d.Get("sensor.unknown")
	assert.False(t, ok)
}

func TestLoadDescriptors_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadDescriptors(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadDescriptors(writeDescriptors(t, "descriptors: [unclosed"), zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("duplicate entity", func(t *testing.T) {
		path := writeDescriptors(t, `descriptors:
  - entity_id: switch.a
  - entity_id: switch.a
`)
		_, err := LoadDescriptors(path, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("malformed entity id", func(t *testing.T) {
		path := writeDescriptors(t, `descriptors:
  - entity_id: kitchen
`)
		_, err := LoadDescriptors(path, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "domain.object")
	})
}

func TestDescriptors_AllIsACopy(t *testing.T) {
	d, err := NewDescriptors([]Descriptor{{EntityID: "switch.a", Label: "A"}})
	require.NoError(t, err)

	all := d.All()
	all[0].Label = "changed"

	desc, _ := d.Get("switch.a")
	assert.Equal(t, "A", desc.Label)
	assert.Equal(t, "A", d.All()[0].Label)
}
