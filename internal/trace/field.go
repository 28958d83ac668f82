package trace

import (
	"bytes"
	"encoding/json"
)

// Field is an optional trace field. A JSON null and a missing key both
// leave it absent.
type Field[T any] struct {
	Present bool
	Value   T
}

// Some wraps v as a present field.
func Some[T any](v T) Field[T] {
	return Field[T]{Present: true, Value: v}
}

// Get returns the value and whether it is present.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Present
}

// IsZero reports absence, so `omitzero` drops absent fields on output.
func (f Field[T]) IsZero() bool {
	return !f.Present
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		f.Present, f.Value = false, zero
		return nil
	}
	if err := json.Unmarshal(data, &f.Value); err != nil {
		var zero T
		f.Present, f.Value = false, zero
		return err
	}
	f.Present = true
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Present {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}
