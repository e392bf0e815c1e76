package variable

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/converter"
)

func Test_StringRoundTrip(t *testing.T) {
	v := String("hello")

	s, err := v.AsString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func Test_IntRoundTrip(t *testing.T) {
	v := Int(42)

	i, err := v.AsInt()
	require.NoError(t, err)
	require.Equal(t, int64(42), i)
}

func Test_DecimalRoundTrip(t *testing.T) {
	v := Decimal(3.14159)

	f, err := v.AsDecimal()
	require.NoError(t, err)
	require.Equal(t, 3.14159, f)
}

func Test_DecimalRounding(t *testing.T) {
	v := Decimal(1.00000000000123)

	f, err := v.AsDecimal()
	require.NoError(t, err)
	require.Equal(t, 1.0, f)
}

func Test_DecimalNonFiniteCoercedToZero(t *testing.T) {
	for _, in := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v := Decimal(in)

		f, err := v.AsDecimal()
		require.NoError(t, err)
		require.Equal(t, 0.0, f)
	}
}

func Test_BoolRoundTrip(t *testing.T) {
	v := Bool(true)

	b, err := v.AsBool()
	require.NoError(t, err)
	require.True(t, b)
}

func Test_DateTimeRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 17, 10, 30, 0, 123456789, time.UTC)
	v := DateTime(now)

	got, err := v.AsTime()
	require.NoError(t, err)
	require.True(t, now.Equal(got))
}

func Test_ObjectRoundTrip(t *testing.T) {
	type patient struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	v, err := Object(converter.DefaultConverter, patient{Name: "Ada", Age: 36})
	require.NoError(t, err)

	var got patient
	require.NoError(t, v.Into(converter.DefaultConverter, &got))
	require.Equal(t, patient{Name: "Ada", Age: 36}, got)
}

func Test_TypeMismatch(t *testing.T) {
	v := String("not a number")

	_, err := v.AsInt()
	require.ErrorContains(t, err, "variable is string, not integer")
}

func Test_FromAny(t *testing.T) {
	c := converter.DefaultConverter

	v, err := FromAny(c, "s")
	require.NoError(t, err)
	require.Equal(t, TypeString, v.Type)

	v, err = FromAny(c, 7)
	require.NoError(t, err)
	require.Equal(t, TypeInteger, v.Type)

	v, err = FromAny(c, 1.5)
	require.NoError(t, err)
	require.Equal(t, TypeDecimal, v.Type)

	v, err = FromAny(c, true)
	require.NoError(t, err)
	require.Equal(t, TypeBoolean, v.Type)

	v, err = FromAny(c, []any{1, 2})
	require.NoError(t, err)
	require.Equal(t, TypeArray, v.Type)

	v, err = FromAny(c, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, TypeObject, v.Type)
}

func Test_EvalContext(t *testing.T) {
	vars := map[string]*Value{
		"amount":   Decimal(10.5),
		"approved": Bool(true),
		"name":     String("Ada"),
	}

	ctx := EvalContext(vars)
	require.Equal(t, 10.5, ctx["amount"])
	require.Equal(t, true, ctx["approved"])
	require.Equal(t, "Ada", ctx["name"])
}
