package docstore

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind tags which field of a Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindList
	KindMap
)

// Value is the dynamic sum type the storage layer persists: the statically
// typed stand-in for the source's untyped map value. The storage layer
// never interprets a Value's contents — only the surrounding query/index
// layers would.
type Value struct {
	Kind Kind

	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
	Time   time.Time
	List   []Value
	Map    map[string]Value
}

func Null() Value                    { return Value{Kind: KindNull} }
func Bool(b bool) Value              { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value              { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value          { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value          { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value           { return Value{Kind: KindBytes, Bytes: b} }
func Time(t time.Time) Value         { return Value{Kind: KindTime, Time: t} }
func List(v []Value) Value           { return Value{Kind: KindList, List: v} }
func Map(m map[string]Value) Value   { return Value{Kind: KindMap, Map: m} }

// cborValue is the wire shape Value (de)serializes through; EncodeValue
// writes its time.Time field as cbor tag 1 (epoch timestamp) using
// fxamacker/cbor's native time.Time support.
type cborValue struct {
	K Kind                 `cbor:"k"`
	B bool                 `cbor:"b,omitempty"`
	I int64                `cbor:"i,omitempty"`
	F float64              `cbor:"f,omitempty"`
	S string               `cbor:"s,omitempty"`
	Y []byte               `cbor:"y,omitempty"`
	T time.Time            `cbor:"t,omitempty"`
	L []cborValue          `cbor:"l,omitempty"`
	M map[string]cborValue `cbor:"m,omitempty"`
}

func (v Value) toWire() cborValue {
	w := cborValue{K: v.Kind}
	switch v.Kind {
	case KindBool:
		w.B = v.Bool
	case KindInt:
		w.I = v.Int
	case KindFloat:
		w.F = v.Float
	case KindString:
		w.S = v.Str
	case KindBytes:
		w.Y = v.Bytes
	case KindTime:
		w.T = v.Time
	case KindList:
		w.L = make([]cborValue, len(v.List))
		for i, e := range v.List {
			w.L[i] = e.toWire()
		}
	case KindMap:
		w.M = make(map[string]cborValue, len(v.Map))
		for k, e := range v.Map {
			w.M[k] = e.toWire()
		}
	}
	return w
}

func fromWire(w cborValue) Value {
	v := Value{Kind: w.K}
	switch w.K {
	case KindBool:
		v.Bool = w.B
	case KindInt:
		v.Int = w.I
	case KindFloat:
		v.Float = w.F
	case KindString:
		v.Str = w.S
	case KindBytes:
		v.Bytes = w.Y
	case KindTime:
		v.Time = w.T
	case KindList:
		v.List = make([]Value, len(w.L))
		for i, e := range w.L {
			v.List[i] = fromWire(e)
		}
	case KindMap:
		v.Map = make(map[string]Value, len(w.M))
		for k, e := range w.M {
			v.Map[k] = fromWire(e)
		}
	}
	return v
}

// EncodeValue CBOR-encodes a Value.
func EncodeValue(v Value) ([]byte, error) {
	em, err := cbor.EncOptions{Time: cbor.TimeUnix, TimeTag: cbor.EncTagRequired}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("%w: cbor encode: %v", ErrCorrupted, err)
	}
	b, err := em.Marshal(v.toWire())
	if err != nil {
		return nil, fmt.Errorf("%w: cbor encode: %v", ErrCorrupted, err)
	}
	return b, nil
}

// DecodeValue reverses EncodeValue.
func DecodeValue(b []byte) (Value, error) {
	var w cborValue
	if err := cbor.Unmarshal(b, &w); err != nil {
		return Value{}, fmt.Errorf("%w: cbor decode: %v", ErrCorrupted, err)
	}
	return fromWire(w), nil
}
