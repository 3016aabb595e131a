package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "bool"
	KindTime   ValueKind = "time"
)

// Value is a closed tagged union used for profile facts and record metadata.
// In JSON strings, numbers and booleans are plain scalars; timestamps are written
// as {"time": "<RFC3339>"} so they read back as timestamps and never as strings.
type Value struct {
	kind ValueKind
	s    string
	n    float64
	b    bool
	t    time.Time
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Timestamp(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsZero() bool { return v.kind == "" }

func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }
func (v Value) Num() (float64, bool) { return v.n, v.kind == KindNumber }
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTime }

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	}
	return true
}

// Encode returns the kind and a canonical string form suitable for storage.
func (v Value) Encode() (ValueKind, string) {
	switch v.kind {
	case KindNumber:
		return v.kind, strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		return v.kind, strconv.FormatBool(v.b)
	case KindTime:
		return v.kind, v.t.Format(time.RFC3339Nano)
	default:
		return KindString, v.s
	}
}

func DecodeValue(kind ValueKind, raw string) (Value, error) {
	switch kind {
	case KindString, "":
		return String(raw), nil
	case KindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("decode number %q: %w", raw, err)
		}
		return Number(n), nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("decode bool %q: %w", raw, err)
		}
		return Bool(b), nil
	case KindTime:
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Value{}, fmt.Errorf("decode time %q: %w", raw, err)
		}
		return Timestamp(t), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

func (v Value) String() string {
	_, raw := v.Encode()
	return raw
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.n)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(taggedTime{Time: v.t.Format(time.RFC3339Nano)})
	default:
		return json.Marshal(v.s)
	}
}

type taggedTime struct {
	Time string `json:"time"`
}

// UnmarshalJSON maps JSON scalars onto value kinds and the tagged object onto a timestamp.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = String(x)
	case float64:
		*v = Number(x)
	case bool:
		*v = Bool(x)
	case map[string]any:
		s, ok := x["time"].(string)
		if !ok || len(x) != 1 {
			return fmt.Errorf("unsupported value object %s", data)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("decode time %q: %w", s, err)
		}
		*v = Timestamp(t)
	case nil:
		*v = Value{}
	default:
		return fmt.Errorf("unsupported value type %T", raw)
	}
	return nil
}
