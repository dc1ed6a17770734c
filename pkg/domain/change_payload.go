package domain

import "encoding/json"

// ChangePayload wraps a JSON snapshot of a change's before/after state so rules
// never share memory with the store.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload wrapper from raw JSON. The bytes are cloned.
func NewChangePayload(raw json.RawMessage) ChangePayload {
	payload := ChangePayload{defined: true}
	if raw != nil {
		payload.raw = append(json.RawMessage(nil), raw...)
	}
	return payload
}

// NewChangePayloadFromValue marshals a typed value into a ChangePayload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// MustChangePayload marshals value and panics on failure. Domain records always marshal.
func MustChangePayload[T any](value T) ChangePayload {
	payload, err := NewChangePayloadFromValue(value)
	if err != nil {
		panic(err)
	}
	return payload
}

// IsEmpty reports whether the payload is undefined or contains no bytes.
func (p ChangePayload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw returns a cloned copy of the underlying JSON bytes.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return append(json.RawMessage(nil), p.raw...)
}

// DecodeChangePayload unmarshals the payload into T. ok is false for empty or
// malformed payloads.
func DecodeChangePayload[T any](p ChangePayload) (T, bool) {
	var out T
	if p.IsEmpty() {
		return out, false
	}
	if err := json.Unmarshal(p.raw, &out); err != nil {
		return out, false
	}
	return out, true
}
