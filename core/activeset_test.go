package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_ActiveSet_AddRemove(t *testing.T) {
	var s ActiveSet

	s.Add("a")
	s.Add("b")
	s.Add("a")

	require.Equal(t, 2, s.Len())
	require.Equal(t, []string{"a", "b"}, s.IDs())

	s.Remove("a")
	require.False(t, s.Contains("a"))
	require.True(t, s.Contains("b"))
	require.Equal(t, 1, s.Len())

	s.Remove("missing")
	require.Equal(t, 1, s.Len())
}

func Test_ActiveSet_OrderPreserved(t *testing.T) {
	s := NewActiveSet("c", "a", "b")
	s.Remove("a")

	require.Equal(t, []string{"c", "b"}, s.IDs())
}

func Test_ActiveSet_CloneIsIndependent(t *testing.T) {
	s := NewActiveSet("a", "b", "c")

	c := s.Clone()
	c.Remove("a")

	require.Equal(t, []string{"a", "b", "c"}, s.IDs())
	require.Equal(t, []string{"b", "c"}, c.IDs())
}

func Test_ActiveSet_JSONRoundTrip(t *testing.T) {
	s := NewActiveSet("x", "y")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `["x","y"]`, string(data))

	var restored ActiveSet
	require.NoError(t, json.Unmarshal(data, &restored))
	require.Equal(t, s.IDs(), restored.IDs())
}

func Test_ActiveSet_EmptyMarshalsAsArray(t *testing.T) {
	var s ActiveSet

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}
