package datastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDictionary_GetAddExists(t *testing.T) {
	d := NewDictionary(nil)
	assert.Equal(t, 0, d.Count())
	assert.Equal(t, "fallback", d.Get("missing", "fallback"))

	d.Add("name", "appfuel").Add("nothing", nil)
	assert.True(t, d.Exists("name"))
	assert.True(t, d.Exists("nothing"))
	assert.Nil(t, d.Get("nothing", "fallback"), "stored nil must not be replaced by the default")
	assert.Equal(t, 2, d.Count())
}

func TestDictionary_LoadCopies(t *testing.T) {
	src := map[string]interface{}{"a": 1}
	d := NewDictionary(src)
	src["b"] = 2
	assert.False(t, d.Exists("b"))

	all := d.GetAll()
	all["c"] = 3
	assert.False(t, d.Exists("c"))
}

func TestDictionary_Collect(t *testing.T) {
	d := NewDictionary(map[string]interface{}{
		"a":     1,
		"false": false,
		"nil":   nil,
	})

	got := d.CollectMap([]string{"a", "false", "nil", "missing"})
	assert.Equal(t, map[string]interface{}{"a": 1, "false": false, "nil": nil}, got)

	sub := d.Collect([]string{"a", "missing"})
	assert.Equal(t, 1, sub.Count())
	assert.Equal(t, 1, sub.Get("a", nil))
}

func TestDictionary_RemoveClearKeys(t *testing.T) {
	d := NewDictionary(map[string]interface{}{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, d.Keys())

	d.Remove("b")
	assert.Equal(t, []string{"a", "c"}, d.Keys())

	d.Clear()
	assert.Equal(t, 0, d.Count())
}

func TestDictionary_GetString(t *testing.T) {
	d := NewDictionary(map[string]interface{}{"s": "x", "n": 5})
	assert.Equal(t, "x", d.GetString("s", "def"))
	assert.Equal(t, "def", d.GetString("n", "def"))
	assert.Equal(t, "def", d.GetString("missing", "def"))
}
