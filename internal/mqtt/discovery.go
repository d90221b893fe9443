//go:build !no_mqtt

package mqtt

import (
	"strings"

	"github.com/goccy/go-json"

	"smartweb-monitor/internal/ecs"
)

const discoveryPrefix = "homeassistant"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/binary_sensor/smartweb_m_32_BC/connected/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string    `json:"identifiers"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	Model        string      `json:"model,omitempty"`
	Name         string      `json:"name"`
	Connections  [][2]string `json:"connections,omitempty"`
}

type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	Device            haDevice `json:"device"`
}

// topicSegment makes s safe for use as one MQTT topic level.
func topicSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func deviceTopic(prefix, id string) string { return prefix + "/devices/" + topicSegment(id) }
func cameraTopic(prefix, name string) string {
	return prefix + "/cameras/" + topicSegment(name)
}

func slaveDevice(dev *ecs.Device) haDevice {
	mac := dev.DisplayID()
	return haDevice{
		Identifiers:  []string{"smartweb_" + topicSegment(dev.ID)},
		Manufacturer: "SmartWeb",
		Model:        "ECS slave",
		Name:         "ECS " + mac,
		Connections:  [][2]string{{"mac", mac}},
	}
}

func bridgeDevice() haDevice {
	return haDevice{
		Identifiers:  []string{"smartweb_bridge"},
		Manufacturer: "SmartWeb",
		Model:        "ECS controller",
		Name:         "SmartWeb controller",
	}
}

// buildDeviceDiscovery returns the HA entities for one slave: connectivity,
// error state and camera count.
func buildDeviceDiscovery(dev *ecs.Device, prefix string) []discoveryMsg {
	node := "smartweb_" + topicSegment(dev.ID)
	state := deviceTopic(prefix, dev.ID)
	avail := prefix + "/bridge/state"
	hd := slaveDevice(dev)

	entities := []struct {
		component string
		object    string
		cfg       haDiscovery
	}{
		{"binary_sensor", "connected", haDiscovery{
			Name:          "Connected",
			DeviceClass:   "connectivity",
			ValueTemplate: "{{ 'ON' if value_json.connected | int == 1 else 'OFF' }}",
		}},
		{"binary_sensor", "error", haDiscovery{
			Name:           "Error",
			DeviceClass:    "problem",
			EntityCategory: "diagnostic",
			ValueTemplate:  "{{ 'ON' if value_json.is_error | int == 1 else 'OFF' }}",
		}},
		{"sensor", "cameras", haDiscovery{
			Name:          "Cameras",
			StateClass:    "measurement",
			ValueTemplate: "{{ value_json.cameras | count }}",
		}},
	}

	msgs := make([]discoveryMsg, 0, len(entities))
	for _, e := range entities {
		cfg := e.cfg
		cfg.UniqueID = node + "_" + e.object
		cfg.StateTopic = state
		cfg.AvailabilityTopic = avail
		cfg.Device = hd
		msgs = append(msgs, discoveryMsg{
			Topic:   discoveryPrefix + "/" + e.component + "/" + node + "/" + e.object + "/config",
			Payload: mustJSON(cfg),
		})
	}
	return msgs
}

// buildBridgeDiscovery returns the controller-level entities: login state,
// the autoscan switch and host telemetry.
func buildBridgeDiscovery(prefix string) []discoveryMsg {
	node := "smartweb_bridge"
	avail := prefix + "/bridge/state"
	hd := bridgeDevice()

	entities := []struct {
		component string
		object    string
		cfg       haDiscovery
	}{
		{"binary_sensor", "logged_in", haDiscovery{
			Name:          "Logged in",
			StateTopic:    prefix + "/status",
			DeviceClass:   "connectivity",
			ValueTemplate: "{{ 'ON' if value_json.logged_in else 'OFF' }}",
		}},
		{"switch", "autoscan", haDiscovery{
			Name:          "Auto scan",
			StateTopic:    prefix + "/status",
			CommandTopic:  prefix + "/set",
			ValueTemplate: "{{ 'ON' if value_json.autoscan else 'OFF' }}",
			PayloadOn:     `{"autoscan":true}`,
			PayloadOff:    `{"autoscan":false}`,
			StateOn:       "ON",
			StateOff:      "OFF",
		}},
		{"sensor", "cpu_temp", haDiscovery{
			Name:              "CPU temperature",
			StateTopic:        prefix + "/system",
			DeviceClass:       "temperature",
			StateClass:        "measurement",
			UnitOfMeasurement: "°C",
			ValueTemplate:     "{{ value_json.cpu_temp }}",
		}},
		{"sensor", "sessions", haDiscovery{
			Name:           "Sessions",
			StateTopic:     prefix + "/system",
			StateClass:     "measurement",
			EntityCategory: "diagnostic",
			ValueTemplate:  "{{ value_json.sessions }}",
		}},
	}

	msgs := make([]discoveryMsg, 0, len(entities))
	for _, e := range entities {
		cfg := e.cfg
		cfg.UniqueID = node + "_" + e.object
		cfg.AvailabilityTopic = avail
		cfg.Device = hd
		msgs = append(msgs, discoveryMsg{
			Topic:   discoveryPrefix + "/" + e.component + "/" + node + "/" + e.object + "/config",
			Payload: mustJSON(cfg),
		})
	}
	return msgs
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
