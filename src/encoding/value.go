package encoding

import (
	"fmt"
	"time"
)

// Value is a typed attribute value.
type Value struct {
	Kind     ValueKind
	Bool     bool
	Long     int64
	Double   float64
	Str      string
	DateTime time.Time
}

func BoolValue(v bool) Value          { return Value{Kind: ValueBool, Bool: v} }
func LongValue(v int64) Value         { return Value{Kind: ValueLong, Long: v} }
func DoubleValue(v float64) Value     { return Value{Kind: ValueDouble, Double: v} }
func StringValue(v string) Value      { return Value{Kind: ValueString, Str: v} }
func DateTimeValue(v time.Time) Value { return Value{Kind: ValueDateTime, DateTime: v} }

// Encode renders the value bytes of the value's kind.
func (v Value) Encode() ([]byte, error) {
	switch v.Kind {
	case ValueBool:
		return EncodeBool(v.Bool), nil
	case ValueLong:
		return EncodeLong(v.Long), nil
	case ValueDouble:
		return EncodeDouble(v.Double), nil
	case ValueString:
		return EncodeString(v.Str)
	case ValueDateTime:
		return EncodeDateTime(v.DateTime), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

// DecodeValue rebuilds a value from a kind tag and value bytes.
func DecodeValue(kind ValueKind, bytes []byte) Value {
	switch kind {
	case ValueBool:
		return BoolValue(DecodeBool(bytes))
	case ValueLong:
		return LongValue(DecodeLong(bytes))
	case ValueDouble:
		return DoubleValue(DecodeDouble(bytes))
	case ValueString:
		return StringValue(DecodeString(bytes))
	case ValueDateTime:
		return DateTimeValue(DecodeDateTime(bytes))
	}
	return Value{}
}

// Equal reports exact value equality, numeric kinds comparing by number.
func (v Value) Equal(other Value) bool {
	return v.Compare(other) == 0 && v.Kind.Comparable(other.Kind)
}

// Compare orders two values of comparable kinds. Non-comparable kinds
// order by kind tag so the result is still total.
func (v Value) Compare(other Value) int {
	if !v.Kind.Comparable(other.Kind) {
		return int(v.Kind) - int(other.Kind)
	}
	switch {
	case v.Kind == ValueBool:
		a, b := 0, 0
		if v.Bool {
			a = 1
		}
		if other.Bool {
			b = 1
		}
		return a - b
	case v.Kind == ValueString:
		switch {
		case v.Str < other.Str:
			return -1
		case v.Str > other.Str:
			return 1
		}
		return 0
	case v.Kind == ValueDateTime:
		switch {
		case v.DateTime.Before(other.DateTime):
			return -1
		case v.DateTime.After(other.DateTime):
			return 1
		}
		return 0
	default:
		a, b := v.asDouble(), other.asDouble()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
}

func (v Value) asDouble() float64 {
	if v.Kind == ValueLong {
		return float64(v.Long)
	}
	return v.Double
}

func (v Value) String() string {
	switch v.Kind {
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueLong:
		return fmt.Sprintf("%d", v.Long)
	case ValueDouble:
		return fmt.Sprintf("%g", v.Double)
	case ValueString:
		return fmt.Sprintf("%q", v.Str)
	case ValueDateTime:
		return v.DateTime.Format(time.RFC3339)
	}
	return "?"
}
