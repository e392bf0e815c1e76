package variable

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/converter"
	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/payload"
)

// Type tags a stored variable value.
type Type string

const (
	TypeString   Type = "string"
	TypeInteger  Type = "integer"
	TypeDecimal  Type = "decimal"
	TypeBoolean  Type = "boolean"
	TypeDateTime Type = "datetime"
	TypeObject   Type = "object"
	TypeArray    Type = "array"
)

// DecimalPrecision is the number of fractional digits kept when a decimal
// value is normalized for storage.
//
// Normalization is deliberately lossy: values are rounded to this precision
// and non-finite values are coerced to zero. Kept for compatibility with
// existing stored data; candidate for revision.
const DecimalPrecision = 10

// Value is one typed variable value. The payload encoding depends on the
// type tag; Decode and the typed accessors round-trip it.
type Value struct {
	Type Type            `json:"type"`
	Data payload.Payload `json:"data"`
}

func String(s string) *Value {
	return mustEncode(TypeString, s)
}

func Int(i int64) *Value {
	return mustEncode(TypeInteger, i)
}

// Decimal normalizes the given value before storing it: NaN and infinities
// become zero, and the fraction is rounded to DecimalPrecision digits.
func Decimal(f float64) *Value {
	return mustEncode(TypeDecimal, NormalizeDecimal(f))
}

func Bool(b bool) *Value {
	return mustEncode(TypeBoolean, b)
}

func DateTime(t time.Time) *Value {
	return mustEncode(TypeDateTime, t.UTC().Format(time.RFC3339Nano))
}

// Object stores an arbitrary value structurally serialized with the given
// converter.
func Object(c converter.Converter, v any) (*Value, error) {
	data, err := c.To(v)
	if err != nil {
		return nil, fmt.Errorf("encoding object variable: %w", err)
	}

	return &Value{Type: TypeObject, Data: data}, nil
}

func Array(c converter.Converter, v []any) (*Value, error) {
	data, err := c.To(v)
	if err != nil {
		return nil, fmt.Errorf("encoding array variable: %w", err)
	}

	return &Value{Type: TypeArray, Data: data}, nil
}

// FromAny converts a dynamically typed value, such as an expression result or
// a service task output, into a typed variable value.
func FromAny(c converter.Converter, v any) (*Value, error) {
	switch t := v.(type) {
	case nil:
		return &Value{Type: TypeObject, Data: payload.Payload("null")}, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float32:
		return Decimal(float64(t)), nil
	case float64:
		return Decimal(t), nil
	case time.Time:
		return DateTime(t), nil
	case []any:
		return Array(c, t)
	case *Value:
		return t, nil
	default:
		return Object(c, v)
	}
}

// NormalizeDecimal applies the storage normalization for decimals.
func NormalizeDecimal(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}

	shift := math.Pow10(DecimalPrecision)

	return math.Round(f*shift) / shift
}

func (v *Value) AsString() (string, error) {
	var s string
	if err := v.decodeAs(TypeString, &s); err != nil {
		return "", err
	}

	return s, nil
}

func (v *Value) AsInt() (int64, error) {
	var i int64
	if err := v.decodeAs(TypeInteger, &i); err != nil {
		return 0, err
	}

	return i, nil
}

func (v *Value) AsDecimal() (float64, error) {
	var f float64
	if err := v.decodeAs(TypeDecimal, &f); err != nil {
		return 0, err
	}

	return f, nil
}

func (v *Value) AsBool() (bool, error) {
	var b bool
	if err := v.decodeAs(TypeBoolean, &b); err != nil {
		return false, err
	}

	return b, nil
}

func (v *Value) AsTime() (time.Time, error) {
	var s string
	if err := v.decodeAs(TypeDateTime, &s); err != nil {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing datetime variable: %w", err)
	}

	return t, nil
}

// Into decodes an object or array variable into the given pointer.
func (v *Value) Into(c converter.Converter, vptr any) error {
	return c.From(v.Data, vptr)
}

// Decode returns the dynamically typed value, as used for expression
// evaluation contexts.
func (v *Value) Decode() (any, error) {
	switch v.Type {
	case TypeString:
		return v.AsString()
	case TypeInteger:
		return v.AsInt()
	case TypeDecimal:
		return v.AsDecimal()
	case TypeBoolean:
		return v.AsBool()
	case TypeDateTime:
		return v.AsTime()
	case TypeObject, TypeArray:
		var out any
		if err := json.Unmarshal(v.Data, &out); err != nil {
			return nil, fmt.Errorf("decoding %s variable: %w", v.Type, err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unknown variable type %q", v.Type)
	}
}

func (v *Value) decodeAs(expected Type, vptr any) error {
	if v.Type != expected {
		return fmt.Errorf("variable is %s, not %s", v.Type, expected)
	}

	if err := json.Unmarshal(v.Data, vptr); err != nil {
		return fmt.Errorf("decoding %s variable: %w", expected, err)
	}

	return nil
}

func mustEncode(t Type, v any) *Value {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable for values json can never encode; the typed
		// constructors all pass encodable primitives.
		panic(err)
	}

	return &Value{Type: t, Data: data}
}

// EvalContext decodes a variable map into the dynamically typed form expected
// by expression evaluation. Variables that fail to decode are skipped.
func EvalContext(vars map[string]*Value) map[string]any {
	ctx := make(map[string]any, len(vars))
	for name, v := range vars {
		decoded, err := v.Decode()
		if err != nil {
			continue
		}

		ctx[name] = decoded
	}

	return ctx
}
