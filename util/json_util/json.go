// Package json_util provides a raw JSON passthrough type used to carry
// unmodelled document sections across load/save cycles.
package json_util

import (
	"errors"
)

// RawMessage marshals empty values as "null" instead of dropping them.
type RawMessage []byte

func (m RawMessage) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}

func (m *RawMessage) UnmarshalJSON(data []byte) error {
	if m == nil {
		return errors.New("json.RawMessage: UnmarshalJSON on nil pointer")
	}
	*m = append((*m)[0:0], data...)
	return nil
}
