package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnvelopeVersion is the envelope layout written by Emit. Readers reject
// anything newer than the version they were built against.
const EnvelopeVersion = 1

// ErrEmptyPayload is returned when an envelope carries no data.
var ErrEmptyPayload = errors.New("envelope has no data")

// Source names the component and, when relevant, the storefront that
// produced an event.
type Source struct {
	Component string `json:"component"`
	StoreKey  string `json:"storeKey,omitempty"`
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// forwarded verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     *Source         `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// ParseEnvelope decodes a stored payload and checks its version.
func ParseEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.EventID == "" {
		return env, errors.New("envelope missing eventId")
	}
	return env, nil
}

// DecodeData unmarshals the event body into dst.
func (e PayloadEnvelope) DecodeData(dst any) error {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyPayload
	}
	return json.Unmarshal(trimmed, dst)
}
