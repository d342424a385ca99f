package publish

import (
	"path"
	"time"

	"lowpass/daily"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State is the body published to the state topic. Timestamps are RFC 3339 in
// the aggregator's time zone, or null before the first low pass of the day.
type State struct {
	Count    uint64  `json:"count"`
	Earliest *string `json:"earliest_aircraft"`
	Latest   *string `json:"latest_aircraft"`
}

// NewState converts an aggregator snapshot into the wire shape.
func NewState(s daily.State, loc *time.Location) State {
	return State{
		Count:    s.Count,
		Earliest: formatStamp(s.Earliest, loc),
		Latest:   formatStamp(s.Latest, loc),
	}
}

func formatStamp(t *time.Time, loc *time.Location) *string {
	if t == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	s := t.In(loc).Format(time.RFC3339)
	return &s
}

// Marshal encodes the state payload.
func (s State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Discovery is the Home Assistant MQTT discovery descriptor for the counter.
type Discovery struct {
	ObjectID            string `json:"object_id"`
	StateTopic          string `json:"state_topic"`
	JSONAttributesTopic string `json:"json_attributes_topic"`
	StateClass          string `json:"state_class"`
	Icon                string `json:"icon"`
	Name                string `json:"name"`
	ValueTemplate       string `json:"value_template"`
	UniqueID            string `json:"unique_id"`
}

// Defaults for the discovery descriptor.
const (
	DefaultIcon          = "mdi:airplane-landing"
	DefaultName          = "Daily counter of low airplane passes"
	DefaultValueTemplate = "{{ value_json.count}}"
)

// NewDiscovery builds the descriptor for root. Empty fields fall back to the
// defaults above.
func NewDiscovery(root, uniqueID, name, icon, valueTemplate string) Discovery {
	if name == "" {
		name = DefaultName
	}
	if icon == "" {
		icon = DefaultIcon
	}
	if valueTemplate == "" {
		valueTemplate = DefaultValueTemplate
	}
	state := StateTopic(root)
	return Discovery{
		ObjectID:            uniqueID,
		StateTopic:          state,
		JSONAttributesTopic: state,
		StateClass:          "total_increasing",
		Icon:                icon,
		Name:                name,
		ValueTemplate:       valueTemplate,
		UniqueID:            uniqueID,
	}
}

// Marshal encodes the descriptor.
func (d Discovery) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// StateTopic returns <root>/state.
func StateTopic(root string) string { return path.Join(root, "state") }

// ConfigTopic returns <root>/config.
func ConfigTopic(root string) string { return path.Join(root, "config") }
