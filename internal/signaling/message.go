package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/1ureka/p2pcall/internal/negotiation"
)

// Envelope is the JSON structure published on the broker by MQTTChannel. A
// broker hides the publisher's address, so the sender names itself.
type Envelope struct {
	Kind string `json:"kind"`
	From string `json:"from"`
	Body string `json:"body"` // record wire text, trailing newline included
}

func newEnvelope(rec negotiation.Record, from string) ([]byte, error) {
	return json.Marshal(Envelope{
		Kind: rec.Kind().String(),
		From: from,
		Body: string(rec.Wire()),
	})
}

func parseEnvelope(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: decode envelope: %w", negotiation.ErrSignalingIO, err)
	}
	if env.From == "" {
		return Inbound{}, fmt.Errorf("%w: envelope without sender", negotiation.ErrSignalingIO)
	}
	return Inbound{Body: env.Body, From: env.From}, nil
}
