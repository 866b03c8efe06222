// Package jsonserializer provides a persistence.Serializer backed by
// encoding/json.
package jsonserializer

import "encoding/json"

// Serializer serializes values as JSON.
type Serializer struct{}

// New returns a new JSON serializer.
func New() *Serializer {
	return &Serializer{}
}

// Serialize encodes v as JSON.
func (*Serializer) Serialize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize decodes JSON-encoded data into v.
func (*Serializer) Deserialize(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
