package config

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Descriptor maps an entity to its display metadata
type Descriptor struct {
	EntityID string `yaml:"entity_id" json:"entityId"`
	Label    string `yaml:"label" json:"label"`
	Unit     string `yaml:"unit" json:"unit"`
	Icon     string `yaml:"icon" json:"icon"`
	Room     string `yaml:"room" json:"room,omitempty"`
}

// Domain returns the descriptor's entity domain
func (d Descriptor) Domain() string {
	domain, _, _ := strings.Cut(d.EntityID, ".")
	return domain
}

// descriptorFile is the YAML layout of DESCRIPTORS_FILE
type descriptorFile struct {
	Descriptors []Descriptor `yaml:"descriptors"`
}

// Descriptors is the read-only descriptor table
type Descriptors struct {
	list []Descriptor
	byID map[string]Descriptor
}

// NewDescriptors validates list and indexes it by entity id
func NewDescriptors(list []Descriptor) (*Descriptors, error) {
	d := &Descriptors{
		list: make([]Descriptor, 0, len(list)),
		byID: make(map[string]Descriptor, len(list)),
	}

	for i, desc := range list {
		domain, object, ok := strings.Cut(desc.EntityID, ".")
		if !ok || domain == "" || object == "" {
			return nil, fmt.Errorf("descriptor %d: entity_id %q is not in domain.object form", i, desc.EntityID)
		}
		if _, dup := d.byID[desc.EntityID]; dup {
			return nil, fmt.Errorf("descriptor %d: duplicate entity_id %q", i, desc.EntityID)
		}
		d.byID[desc.EntityID] = desc
		d.list = append(d.list, desc)
	}
	return d, nil
}

// LoadDescriptors reads the descriptor table from path, or returns the
// built-in table when path is empty
func LoadDescriptors(path string, logger *zap.Logger) (*Descriptors, error) {
	if path == "" {
		logger.Info("Using built-in descriptor table", zap.Int("count", len(defaultDescriptors)))
		return NewDescriptors(defaultDescriptors)
	}

	logger.Debug("Loading descriptors", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptors: %w", err)
	}

	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse descriptors: %w", err)
	}

	descriptors, err := NewDescriptors(file.Descriptors)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptors in %s: %w", path, err)
	}

	logger.Info("Descriptors loaded successfully",
		zap.String("path", path),
		zap.Int("count", len(descriptors.list)))
	return descriptors, nil
}

// Get returns the descriptor for entityID
func (d *Descriptors) Get(entityID string) (Descriptor, bool) {
	desc, ok := d.byID[entityID]
	return desc, ok
}

// All returns every descriptor in table order
func (d *Descriptors) All() []Descriptor {
	return append([]Descriptor(nil), d.list...)
}

// Len returns the number of descriptors
func (d *Descriptors) Len() int {
	return len(d.list)
}

// Lights returns the entity ids of every switch and light descriptor, in table order
func (d *Descriptors) Lights() []string {
	var ids []string
	for _, desc := range d.list {
		if IsLightDomain(desc.Domain()) {
			ids = append(ids, desc.EntityID)
		}
	}
	return ids
}

// InRoom returns the descriptors assigned to room, in table order
func (d *Descriptors) InRoom(room string) []Descriptor {
	var out []Descriptor
	for _, desc := range d.list {
		if desc.Room == room {
			out = append(out, desc)
		}
	}
	return out
}

// Rooms returns the distinct room keys in first-seen order
func (d *Descriptors) Rooms() []string {
	seen := make(map[string]bool)
	var rooms []string
	for _, desc := range d.list {
		if desc.Room == "" || seen[desc.Room] {
			continue
		}
		seen[desc.Room] = true
		rooms = append(rooms, desc.Room)
	}
	return rooms
}

// IsLightDomain reports whether entities of domain have an on/off projection
func IsLightDomain(domain string) bool {
	return domain == "switch" || domain == "light"
}

var defaultDescriptors = []Descriptor{
	{EntityID: "switch.lightswitch_lobby", Label: "Lobby", Room: "lobby"},
	{EntityID: "switch.lightswitch_living_ladder", Label: "Living Ladder", Room: "living"},
	{EntityID: "switch.lightswitch_office", Label: "Office", Room: "office"},
	{EntityID: "switch.lightswitch_bedroom", Label: "Bedroom", Room: "bedroom"},
	{EntityID: "switch.lightswitch_kitchen_ceil", Label: "Kitchen Ceiling", Room: "kitchen"},
	{EntityID: "switch.lightswitch_kitchen_cupboard", Label: "Kitchen Cupboard", Room: "kitchen"},
	{EntityID: "switch.lightswitch_yard", Label: "Yard", Room: "yard"},

	{EntityID: "sensor.breaker_phase_a_power", Label: "Phase A Power", Unit: "W", Icon: "zap"},
	{EntityID: "sensor.breaker_phase_a_current", Label: "Phase A Current", Unit: "A", Icon: "zap"},
	{EntityID: "sensor.breaker_phase_a_voltage", Label: "Phase A Voltage", Unit: "V", Icon: "zap"},

	{EntityID: "binary_sensor.sensor_lobby_door_contact", Label: "Lobby Door", Icon: "door-closed", Room: "lobby"},
	{EntityID: "binary_sensor.sensor_yard_door_contact", Label: "Yard Door", Icon: "door-closed", Room: "yard"},

	{EntityID: "sensor.sensor_temperature_living_temperature", Label: "Living Room Temperature", Unit: "°C", Icon: "thermometer", Room: "living"},
	{EntityID: "sensor.sensor_temperature_living_humidity", Label: "Living Room Humidity", Unit: "%", Icon: "droplet", Room: "living"},
	{EntityID: "sensor.sensor_temperature_bedroom_temperature", Label: "Bedroom Temperature", Unit: "°C", Icon: "thermometer", Room: "bedroom"},
	{EntityID: "sensor.sensor_temperature_bedroom_humidity", Label: "Bedroom Humidity", Unit: "%", Icon: "droplet", Room: "bedroom"},
	{EntityID: "sensor.sensor_temperature_kitchen_temperature", Label: "Kitchen Temperature", Unit: "°C", Icon: "thermometer", Room: "kitchen"},
	{EntityID: "sensor.sensor_temperature_kitchen_humidity", Label: "Kitchen Humidity", Unit: "%", Icon: "droplet", Room: "kitchen"},
	{EntityID: "sensor.sensor_temperature_office_temperature", Label: "Office Temperature", Unit: "°C", Icon: "thermometer", Room: "office"},
	{EntityID: "sensor.sensor_temperature_office_humidity", Label: "Office Humidity", Unit: "%", Icon: "droplet", Room: "office"},
}
