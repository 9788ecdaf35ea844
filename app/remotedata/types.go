package remotedata

import (
	"encoding/json"
	"maps"
)

// Metadata describes the delivery context a payload was produced for
// (request URL, and through it locale, platform and SDK version).
type Metadata map[string]string

// Equal reports whether two fingerprints are the same. Nil and empty are equal.
func (m Metadata) Equal(other Metadata) bool {
	return maps.Equal(m, other)
}

// Payload is one versioned snapshot of a remote-data type.
type Payload struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // milliseconds since epoch
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
}

// Response is the result of a single remote-data request.
type Response struct {
	Status       int
	LastModified string
	Payloads     []Payload
}

type responseBody struct {
	OK       bool          `json:"ok"`
	Payloads []payloadBody `json:"payloads"`
}

type payloadBody struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}
