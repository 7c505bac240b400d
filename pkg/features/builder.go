package features

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchemaMismatch indicates a telemetry record carried a value that cannot
// be coerced to a number for a feature the schema names.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Record is a raw telemetry record: feature name to value, typically decoded
// from JSON. Keys absent from the schema are ignored; keys absent from the
// record contribute 0.0.
type Record map[string]any

// Vector assembles a raw feature vector from a record in schema order,
// continuous features first then binary. Missing keys become 0.0; a present
// key with a non-numeric value is an error, not a silent zero.
func (s Schema) Vector(rec Record) ([]float64, error) {
	vec := make([]float64, 0, s.Dim())

	for _, name := range s.Continuous {
		v, err := lookup(rec, name)
		if err != nil {
			return nil, err
		}
		vec = append(vec, v)
	}
	for _, name := range s.Binary {
		v, err := lookup(rec, name)
		if err != nil {
			return nil, err
		}
		vec = append(vec, v)
	}

	return vec, nil
}

// Matrix assembles one vector per record, preserving record order.
func (s Schema) Matrix(recs []Record) ([][]float64, error) {
	data := make([][]float64, len(recs))
	for i, rec := range recs {
		vec, err := s.Vector(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		data[i] = vec
	}
	return data, nil
}

func lookup(rec Record, name string) (float64, error) {
	raw, ok := rec[name]
	if !ok || raw == nil {
		return 0, nil
	}

	v, err := coerce(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: feature %q: %v", ErrSchemaMismatch, name, err)
	}
	return v, nil
}

// coerce converts the value types a JSON or CSV record can carry.
func coerce(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("unsupported value type %T", raw)
	}
}
