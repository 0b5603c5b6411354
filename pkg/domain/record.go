package domain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Record is the row form of an entity exchanged with stores.
type Record struct {
	Key    Key
	Values Values
}

// Clone returns a record that shares no mutable state with r.
func (r Record) Clone() Record {
	return Record{Key: r.Key, Values: r.Values.Clone()}
}

// EncodeValues serialises the declared fields of v as a JSON object. Times
// are written as RFC3339Nano strings and byte slices as base64.
func EncodeValues(t Type, v Values) ([]byte, error) {
	out := make(map[string]any, len(t.Fields))
	for _, f := range t.Fields {
		val := v[f.Name]
		if ts, ok := val.(time.Time); ok {
			out[f.Name] = ts.UTC().Format(time.RFC3339Nano)
			continue
		}
		out[f.Name] = val
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s values: %w", t.Name, err)
	}
	return data, nil
}

// DecodeValues parses a payload produced by EncodeValues, converting each
// declared field back to its canonical kind. Undeclared keys are ignored.
func DecodeValues(t Type, data []byte) (Values, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s values: %w", t.Name, err)
	}
	out := make(Values, len(t.Fields))
	for _, f := range t.Fields {
		val, err := decodeField(f, raw[f.Name])
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", t.Name, f.Name, err)
		}
		out[f.Name] = val
	}
	return out, nil
}

func decodeField(f Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case KindInt:
		if n, ok := raw.(json.Number); ok {
			return n.Int64()
		}
	case KindFloat:
		if n, ok := raw.(json.Number); ok {
			return n.Float64()
		}
	case KindBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case KindTime:
		if s, ok := raw.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	case KindBytes:
		if s, ok := raw.(string); ok {
			return base64.StdEncoding.DecodeString(s)
		}
	}
	return nil, fmt.Errorf("%w: unexpected %T for %s", ErrInvalidValue, raw, f.Kind)
}
