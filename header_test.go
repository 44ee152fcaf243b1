package httppool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeader_CaseInsensitive(t *testing.T) {
	h := NewHeader("Content-Type", "text/plain", "X-Trace", "a", "x-trace", "b", "dangling")

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, "text/plain", h.Get("content-type"))
	assert.Equal(t, []string{"a", "b"}, h.Values("X-TRACE"))
	assert.Equal(t, []string{"Content-Type", "X-Trace"}, h.Keys())

	_, ok := h.Lookup("Missing")
	assert.False(t, ok)
}

func TestHeader_SetKeepsPosition(t *testing.T) {
	h := NewHeader("A", "1", "B", "2", "a", "3")

	h.Set("a", "new")

	assert.Equal(t, []HeaderField{{Key: "A", Value: "new"}, {Key: "B", Value: "2"}}, h.Fields())

	h.Set("C", "3")
	assert.Equal(t, "3", h.Get("c"))

	h.Del("b")
	assert.Equal(t, []string{"A", "C"}, h.Keys())
}

func TestHeader_FromMapAndClone(t *testing.T) {
	h := HeaderFromMap(map[string]string{"Zeta": "z", "Alpha": "a"})
	assert.Equal(t, []string{"Alpha", "Zeta"}, h.Keys())

	clone := h.Clone()
	clone.Set("Alpha", "changed")
	assert.Equal(t, "a", h.Get("Alpha"))

	h.Add("Zeta", "y")
	assert.Equal(t, map[string]string{"Alpha": "a", "Zeta": "z, y"}, h.Map())
}

func TestHeader_NilSafe(t *testing.T) {
	var h *Header

	assert.Equal(t, "", h.Get("x"))
	assert.Equal(t, 0, h.Len())
	assert.Nil(t, h.Fields())
	assert.Equal(t, 0, h.Clone().Len())
}
