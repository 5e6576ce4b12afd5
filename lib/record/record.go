// Package record holds the data model shared by sources, the normalizer
// and the harvester: a tagged variant for semi-structured payload values,
// the raw record shape sources emit, and the flat tabular row shape the
// normalizer produces.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

type Kind int

const (
	// KindAbsent doubles as the sentinel for columns a breakdown element
	// did not carry; it is never silently omitted from a row.
	KindAbsent Kind = iota
	KindScalar
	KindSequence
	KindMapping
)

// Value is a tagged variant over the shapes that show up in loosely typed
// API payloads: a scalar, an ordered sequence or a nested mapping.
// The zero Value is the absent marker.
type Value struct {
	Kind     Kind
	Scalar   any // string | int64 | float64 | bool when Kind == KindScalar
	Sequence []Value
	Mapping  map[string]Value
}

// Absent is the sentinel written into rows for missing sub-dimension keys.
var Absent = Value{}

func String(s string) Value  { return Value{Kind: KindScalar, Scalar: s} }
func Int(i int64) Value      { return Value{Kind: KindScalar, Scalar: i} }
func Float(f float64) Value  { return Value{Kind: KindScalar, Scalar: f} }
func Bool(b bool) Value      { return Value{Kind: KindScalar, Scalar: b} }
func Seq(vs ...Value) Value  { return Value{Kind: KindSequence, Sequence: vs} }
func Map(m map[string]Value) Value {
	return Value{Kind: KindMapping, Mapping: m}
}

func (v Value) IsAbsent() bool { return v.Kind == KindAbsent }

// Render returns the scalar as display text; absent values render empty.
func (v Value) Render() string {
	switch v.Kind {
	case KindAbsent:
		return ""
	case KindScalar:
		switch s := v.Scalar.(type) {
		case string:
			return s
		case int64:
			return strconv.FormatInt(s, 10)
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(s)
		}
	}
	return fmt.Sprintf("%v", v.Scalar)
}

// FromJSON converts the output of encoding/json decoding into a Value.
// Whole float64 numbers become int64 so scraped counts stay exact.
func FromJSON(v any) Value {
	switch x := v.(type) {
	case nil:
		return Absent
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x))
		}
		return Float(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		if f, err := x.Float64(); err == nil {
			return Float(f)
		}
		return String(x.String())
	case []any:
		seq := make([]Value, len(x))
		for i, e := range x {
			seq[i] = FromJSON(e)
		}
		return Value{Kind: KindSequence, Sequence: seq}
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromJSON(e)
		}
		return Map(m)
	}
	return String(fmt.Sprintf("%v", v))
}

// MarshalJSON renders the variant back into plain JSON: scalars as bare
// values, sequences as arrays, mappings as objects, absent as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindAbsent:
		return []byte("null"), nil
	case KindScalar:
		return json.Marshal(v.Scalar)
	case KindSequence:
		if v.Sequence == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Sequence)
	case KindMapping:
		return json.Marshal(v.Mapping)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromJSON(raw)
	return nil
}

// RawRecord is one unprocessed item returned by a source. Sources hand it
// off once and never mutate it afterwards.
type RawRecord map[string]Value

// FromJSONObject converts a decoded JSON object into a RawRecord.
func FromJSONObject(obj map[string]any) RawRecord {
	rec := make(RawRecord, len(obj))
	for k, v := range obj {
		rec[k] = FromJSON(v)
	}
	return rec
}

// FlatRow is one normalized tabular row. All rows produced by a single
// normalization pass share an identical column set; values are scalar or
// the absent marker.
type FlatRow map[string]Value

// Columns returns the row's column names in sorted order.
func (r FlatRow) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
