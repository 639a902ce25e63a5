package domain

import (
	"encoding/json"
	"time"
)

// SignalBus channels.
const (
	ChannelRun      = "ch:run"
	ChannelCycle    = "ch:cycle"
	ChannelAlert    = "ch:alert"
	ChannelSettings = "ch:settings"
	ChannelTopUp    = "ch:topup"
)

// Event is the envelope published on the signal bus.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into an event envelope.
func NewEvent(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: typ, Payload: raw, Timestamp: time.Now().UTC()})
}
