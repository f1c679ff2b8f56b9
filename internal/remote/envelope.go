// ABOUTME: Row envelope tagging every remote write with the writing node's ID
// ABOUTME: Echo detection compares the envelope origin with the local node

package remote

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// Seal marshals row wrapped in an envelope from origin.
func Seal(origin string, row any) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	raw, err := json.Marshal(envelope{Origin: origin, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}

// Unseal extracts the origin and the row payload from raw.
func Unseal(raw []byte) (origin string, data json.RawMessage, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env.Origin, env.Data, nil
}

// RecordFor builds the listener record for a stored row as seen by node.
func RecordFor(node, key string, raw []byte) (Record, error) {
	origin, data, err := Unseal(raw)
	if err != nil {
		return Record{}, fmt.Errorf("row %s: %w", key, err)
	}
	return Record{Key: key, Data: data, IsLocalEcho: origin == node}, nil
}
