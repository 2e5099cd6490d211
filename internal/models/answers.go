package models

import (
	"encoding/json"
	"fmt"

	"github.com/elliotchance/orderedmap/v3"
)

// Answers holds validated field values in the order they were collected.
// Values are one of bool, int64, float64 or string.
type Answers struct {
	m *orderedmap.OrderedMap[FieldKey, any]
}

// NewAnswers returns an empty Answers.
func NewAnswers() Answers {
	return Answers{m: orderedmap.NewOrderedMap[FieldKey, any]()}
}

func (a *Answers) ensure() {
	if a.m == nil {
		a.m = orderedmap.NewOrderedMap[FieldKey, any]()
	}
}

// Set stores v under key. Overwriting keeps the original position.
func (a *Answers) Set(key FieldKey, v any) {
	a.ensure()
	a.m.Set(key, v)
}

// Get returns the value stored under key.
func (a Answers) Get(key FieldKey) (any, bool) {
	if a.m == nil {
		return nil, false
	}
	return a.m.Get(key)
}

// String returns the value under key if it is a string.
func (a Answers) String(key FieldKey) string {
	v, _ := a.Get(key)
	s, _ := v.(string)
	return s
}

// Int returns the value under key if it is an integer.
func (a Answers) Int(key FieldKey) (int64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	i, ok := v.(int64)
	return i, ok
}

// Float returns the value under key as a float64; integers are widened.
func (a Answers) Float(key FieldKey) (float64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Len returns the number of stored answers.
func (a Answers) Len() int {
	if a.m == nil {
		return 0
	}
	return a.m.Len()
}

// Keys returns the keys in insertion order.
func (a Answers) Keys() []FieldKey {
	if a.m == nil {
		return nil
	}
	keys := make([]FieldKey, 0, a.m.Len())
	for el := a.m.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}
	return keys
}

// Map returns a plain copy keyed by string, for storage and reports.
func (a Answers) Map() map[string]any {
	out := make(map[string]any, a.Len())
	if a.m == nil {
		return out
	}
	for el := a.m.Front(); el != nil; el = el.Next() {
		out[string(el.Key)] = el.Value
	}
	return out
}

// Clone returns an independent copy.
func (a Answers) Clone() Answers {
	c := NewAnswers()
	if a.m == nil {
		return c
	}
	for el := a.m.Front(); el != nil; el = el.Next() {
		c.m.Set(el.Key, el.Value)
	}
	return c
}

// answerEntry is the persisted form of a single answer. The type tag keeps
// integers and decimals distinct across a JSON round trip.
type answerEntry struct {
	Key   FieldKey        `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the answers as an ordered list of typed entries.
func (a Answers) MarshalJSON() ([]byte, error) {
	entries := make([]answerEntry, 0, a.Len())
	if a.m != nil {
		for el := a.m.Front(); el != nil; el = el.Next() {
			var typ string
			switch el.Value.(type) {
			case bool:
				typ = "bool"
			case int64:
				typ = "int"
			case float64:
				typ = "float"
			case string:
				typ = "string"
			default:
				return nil, fmt.Errorf("answer %q has unsupported type %T", el.Key, el.Value)
			}
			raw, err := json.Marshal(el.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, answerEntry{Key: el.Key, Type: typ, Value: raw})
		}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes the typed entry list produced by MarshalJSON.
func (a *Answers) UnmarshalJSON(data []byte) error {
	var entries []answerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*a = NewAnswers()
	for _, e := range entries {
		var err error
		switch e.Type {
		case "bool":
			var v bool
			err = json.Unmarshal(e.Value, &v)
			a.Set(e.Key, v)
		case "int":
			var v int64
			err = json.Unmarshal(e.Value, &v)
			a.Set(e.Key, v)
		case "float":
			var v float64
			err = json.Unmarshal(e.Value, &v)
			a.Set(e.Key, v)
		case "string":
			var v string
			err = json.Unmarshal(e.Value, &v)
			a.Set(e.Key, v)
		default:
			return fmt.Errorf("answer %q has unknown type tag %q", e.Key, e.Type)
		}
		if err != nil {
			return fmt.Errorf("answer %q: %w", e.Key, err)
		}
	}
	return nil
}
