package state

import (
	"fmt"
	"strings"

	"homedash/internal/config"
	"homedash/internal/ha"
)

// NoData is shown in place of an aggregate with nothing to aggregate
const NoData = "--"

// Units used by the derived views
const (
	UnitCelsius  = "°C"
	UnitHumidity = "%"
	UnitPower    = "W"
	UnitCurrent  = "A"
	UnitVoltage  = "V"
)

// defaultIcon is used for entities without a descriptor icon
const defaultIcon = "sensor"

// SensorView is one entity as the dashboard renders it
type SensorView struct {
	DisplayName string `json:"displayName"`
	Value       string `json:"value"`
	Unit        string `json:"unit"`
	Icon        string `json:"icon"`
	LastUpdated string `json:"lastUpdated"`
}

// RoomView summarises one room
type RoomView struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Lights      int    `json:"lights"`
	LightsOn    int    `json:"lightsOn"`
}

// PowerView holds the breaker readings
type PowerView struct {
	Voltage string `json:"voltage"`
	Current string `json:"current"`
	Power   string `json:"power"`
}

// DoorView is the state of one door contact
type DoorView struct {
	Status      string `json:"status"`
	LastUpdated string `json:"lastUpdated"`
}

// Dashboard is every derived view in one document
type Dashboard struct {
	Rooms              map[string]RoomView `json:"rooms"`
	AverageTemperature string              `json:"averageTemperature"`
	AverageHumidity    string              `json:"averageHumidity"`
	Power              PowerView           `json:"power"`
	Doors              map[string]DoorView `json:"doors"`
	Lights             map[string]bool     `json:"lights"`
	LightsOn           int                 `json:"lightsOn"`
	Entities           int                 `json:"entities"`
}

func isSensorDomain(domain string) bool {
	switch domain {
	case "sensor", "binary_sensor", "switch", "light":
		return true
	}
	return false
}

// Sensor renders one entry
func (e Entry) Sensor() SensorView {
	view := SensorView{
		DisplayName: e.State.EntityID,
		Value:       e.State.State,
		Icon:        defaultIcon,
		LastUpdated: e.State.LastUpdated,
	}
	if d := e.Descriptor; d != nil {
		if d.Label != "" {
			view.DisplayName = d.Label
		}
		if d.Icon != "" {
			view.Icon = d.Icon
		}
		view.Unit = d.Unit
	}
	return view
}

// Sensors renders every sensor, binary sensor, switch and light, keyed by entity id
func (t Table) Sensors() map[string]SensorView {
	out := make(map[string]SensorView)
	for id, e := range t.entries {
		if isSensorDomain(ha.Domain(id)) {
			out[id] = e.Sensor()
		}
	}
	return out
}

// Average is the mean of every numeric entity whose descriptor has unit,
// formatted with one decimal, or NoData when nothing matches.
// Entities without a descriptor never contribute.
func (t Table) Average(unit string) string {
	var sum float64
	var n int
	for _, e := range t.entries {
		if e.Descriptor == nil || e.Descriptor.Unit != unit {
			continue
		}
		v, ok := ha.ParseNumeric(e.State.State)
		if !ok {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return NoData
	}
	return fmt.Sprintf("%.1f", sum/float64(n))
}

// Room summarises the entities assigned to room by their descriptors
func (t Table) Room(room string) RoomView {
	view := RoomView{Temperature: NoData, Humidity: NoData}
	if t.descriptors == nil {
		return view
	}

	for _, d := range t.descriptors.InRoom(room) {
		// Only entities the hub has reported count, lights included
		e, present := t.entries[d.EntityID]
		if !present {
			continue
		}

		if config.IsLightDomain(d.Domain()) {
			view.Lights++
			if t.lights[d.EntityID] {
				view.LightsOn++
			}
			continue
		}

		switch d.Unit {
		case UnitCelsius:
			if view.Temperature == NoData {
				view.Temperature = withUnit(e.State.State, d.Unit, "")
			}
		case UnitHumidity:
			if view.Humidity == NoData {
				view.Humidity = withUnit(e.State.State, d.Unit, "")
			}
		}
	}
	return view
}

// Rooms summarises every room named by a descriptor
func (t Table) Rooms() map[string]RoomView {
	out := make(map[string]RoomView)
	if t.descriptors == nil {
		return out
	}
	for _, room := range t.descriptors.Rooms() {
		out[room] = t.Room(room)
	}
	return out
}

// Power reports the first voltage, current and power reading by descriptor unit
func (t Table) Power() PowerView {
	return PowerView{
		Voltage: t.firstWithUnit(UnitVoltage),
		Current: t.firstWithUnit(UnitCurrent),
		Power:   t.firstWithUnit(UnitPower),
	}
}

func (t Table) firstWithUnit(unit string) string {
	if t.descriptors == nil {
		return NoData
	}
	for _, d := range t.descriptors.All() {
		if d.Unit != unit {
			continue
		}
		if e, ok := t.entries[d.EntityID]; ok {
			return withUnit(e.State.State, unit, " ")
		}
	}
	return NoData
}

// Door reports a contact sensor: "off" is closed, any other state is open
func (t Table) Door(entityID string) DoorView {
	e, ok := t.entries[entityID]
	if !ok {
		return DoorView{Status: NoData, LastUpdated: NoData}
	}

	view := DoorView{Status: "Open", LastUpdated: e.State.LastUpdated}
	if e.State.State == "off" {
		view.Status = "Closed"
	}
	if view.LastUpdated == "" {
		view.LastUpdated = NoData
	}
	return view
}

// Doors reports every door contact descriptor, keyed by entity id
func (t Table) Doors() map[string]DoorView {
	out := make(map[string]DoorView)
	if t.descriptors == nil {
		return out
	}
	for _, d := range t.descriptors.All() {
		if d.Domain() == "binary_sensor" && strings.Contains(d.EntityID, "door") {
			out[d.EntityID] = t.Door(d.EntityID)
		}
	}
	return out
}

// Dashboard computes every derived view from the table
func (t Table) Dashboard() Dashboard {
	return Dashboard{
		Rooms:              t.Rooms(),
		AverageTemperature: t.Average(UnitCelsius),
		AverageHumidity:    t.Average(UnitHumidity),
		Power:              t.Power(),
		Doors:              t.Doors(),
		Lights:             t.Lights(),
		LightsOn:           t.LightsOn(),
		Entities:           t.Len(),
	}
}

// withUnit joins a value and unit, or returns NoData for an empty value
func withUnit(value, unit, sep string) string {
	if value == "" {
		return NoData
	}
	if unit == "" {
		return value
	}
	return value + sep + unit
}
