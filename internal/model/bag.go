package model

import "time"

// Kind tags the concrete type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindFloat
	KindTime
)

// Value is a sum type over the handful of shapes a raw field can take:
// string, number, date, or null. It replaces the dynamic dict lookups of
// the original source with an explicit, typed representation.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Time time.Time
}

func NullValue() Value               { return Value{Kind: KindNull} }
func StringValue(s string) Value     { return Value{Kind: KindString, Str: s} }
func FloatValue(f float64) Value     { return Value{Kind: KindFloat, Num: f} }
func TimeValue(t time.Time) Value    { return Value{Kind: KindTime, Time: t} }
func (v Value) IsNull() bool         { return v.Kind == KindNull }

// Bag is a semi-structured field->value mapping, the re-architected stand-in
// for the loose dictionaries the original source passed around. Every
// RawRow carries one.
type Bag struct {
	fields map[string]Value
	misses []string
}

func NewBag() *Bag {
	return &Bag{fields: make(map[string]Value)}
}

func BagFromStrings(kv map[string]string) *Bag {
	b := NewBag()
	for k, v := range kv {
		b.Set(k, StringValue(v))
	}
	return b
}

func (b *Bag) Set(key string, v Value) {
	b.fields[key] = v
}

func (b *Bag) Raw() map[string]Value {
	return b.fields
}

// GetString returns the string field, recording a miss when absent or null
// so callers can surface which keys the mapping config expected but the
// source row did not carry.
func (b *Bag) GetString(key string) (string, bool) {
	v, ok := b.fields[key]
	if !ok || v.Kind != KindString || v.Str == "" {
		b.misses = append(b.misses, key)
		return "", false
	}
	return v.Str, true
}

func (b *Bag) GetFloat(key string) (float64, bool) {
	v, ok := b.fields[key]
	if !ok {
		b.misses = append(b.misses, key)
		return 0, false
	}
	switch v.Kind {
	case KindFloat:
		return v.Num, true
	case KindString:
		return parseFloatLoose(v.Str)
	default:
		b.misses = append(b.misses, key)
		return 0, false
	}
}

func (b *Bag) GetTime(key string) (time.Time, bool) {
	v, ok := b.fields[key]
	if !ok || v.Kind != KindTime {
		b.misses = append(b.misses, key)
		return time.Time{}, false
	}
	return v.Time, true
}

// Misses returns the keys accessors have failed to resolve, in the order
// the misses happened, repeats included. Useful for ConfigMissing/ParseError
// diagnostics.
func (b *Bag) Misses() []string {
	return append([]string(nil), b.misses...)
}
