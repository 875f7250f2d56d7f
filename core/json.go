package core

import "encoding/json"

// EncodeJSON marshals v for transport over NATS.
func EncodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeJSON unmarshals wire data into v.
func DecodeJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
