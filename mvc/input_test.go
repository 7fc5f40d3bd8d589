package mvc

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	u := ParseURI("/users/id/42/active?sort=name&id=7&tag=a&tag=b")

	assert.Equal(t, "users", u.RouteKey())
	assert.Equal(t, "users/id/42/active", u.Path())
	assert.Equal(t, "sort=name&id=7&tag=a&tag=b", u.ParamString())
	assert.Equal(t, map[string]interface{}{
		"id":     "42",
		"active": "",
		"sort":   "name",
		"tag":    []string{"a", "b"},
	}, u.Params(), "path params win over the query")
}

func TestParseURI_Edges(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		route  string
		params map[string]interface{}
	}{
		{name: "empty", raw: "", route: "", params: map[string]interface{}{}},
		{name: "route only", raw: "home", route: "home", params: map[string]interface{}{}},
		{name: "escaped", raw: "search/q/hello%20world", route: "search", params: map[string]interface{}{"q": "hello world"}},
		{name: "double slashes", raw: "//a//k/v/", route: "a", params: map[string]interface{}{"k": "v"}},
		{name: "query only", raw: "?x=1", route: "", params: map[string]interface{}{"x": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := ParseURI(tt.raw)
			assert.Equal(t, tt.route, u.RouteKey())
			assert.Equal(t, tt.params, u.Params())
		})
	}
}

func TestNewInput(t *testing.T) {
	in, err := NewInput("POST", map[string]map[string]interface{}{
		ParamPost: {"name": "ada"},
		ParamGet:  {"page": "2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "post", in.Method())
	assert.True(t, in.IsPost())
	assert.False(t, in.IsGet())
	assert.Equal(t, "ada", in.Param("name", nil))
	assert.Equal(t, "2", in.Get("GET", "page", nil))
	assert.Equal(t, "none", in.Get("session", "x", "none"))
	assert.Equal(t, "fallback", in.GetString(ParamPost, "missing", "fallback"))

	cookies, ok := in.All(ParamCookie)
	assert.True(t, ok)
	assert.Empty(t, cookies, "missing buckets are created")
	_, ok = in.All("session")
	assert.False(t, ok)
	assert.Len(t, in.AllParams(), 5)

	assert.True(t, in.IsValidParamType("Files"))
	assert.False(t, in.IsValidParamType(""))
	assert.False(t, in.IsValidParamType("server"))

	_, err = NewInput("  ", nil)
	assert.ErrorIs(t, err, ErrInvalidMethod)
	_, err = NewInput("get", map[string]map[string]interface{}{ParamGet: {"": 1}})
	assert.ErrorIs(t, err, ErrInvalidParamKey)
}

func TestInput_CliReadsArgv(t *testing.T) {
	in, err := NewInput("cli", map[string]map[string]interface{}{ParamArgv: {"0": "first", "verbose": true}})
	require.NoError(t, err)

	assert.True(t, in.IsCli())
	assert.Equal(t, true, in.Param("verbose", false))
	assert.Equal(t, "first", in.Param("0", nil))
}

func TestInput_Collect(t *testing.T) {
	in, err := NewInput("get", map[string]map[string]interface{}{ParamGet: {"a": 1, "b": nil}})
	require.NoError(t, err)

	d := in.Collect(ParamGet, []string{"a", "b", "c"})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": nil}, d.GetAll())
	assert.Equal(t, 0, in.Collect("nope", []string{"a"}).Count())
}

func TestInput_IP(t *testing.T) {
	in, err := NewInput("get", nil)
	require.NoError(t, err)

	_, ok := in.IP(false)
	assert.False(t, ok)

	in.SetServer(map[string]string{ServerRemoteAddr: "192.168.1.1"})
	ip, ok := in.IP(false)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", ip)
	ip, ok = in.IP(true)
	require.True(t, ok)
	assert.Equal(t, "3232235777", ip)

	in.SetServer(map[string]string{ServerForwardedFor: "10.0.0.1, 10.0.0.2"})
	ip, _ = in.IP(false)
	assert.Equal(t, "10.0.0.1", ip, "forwarded for beats remote addr")

	in.SetServer(map[string]string{ServerClientIP: "::1"})
	ip, _ = in.IP(false)
	assert.Equal(t, "::1", ip, "client ip beats everything")
	_, ok = in.IP(true)
	assert.False(t, ok, "ipv6 has no long form")
}

type signup struct {
	Name   string `param:"name" validate:"required"`
	Age    int    `param:"age" validate:"gte=18"`
	Agreed bool   `param:"agreed"`
}

func TestInput_Bind(t *testing.T) {
	in, err := NewInput("post", map[string]map[string]interface{}{
		ParamPost: {"name": "ada", "age": "36", "agreed": "1"},
		ParamGet:  {"age": "12"},
	})
	require.NoError(t, err)

	var s signup
	require.NoError(t, in.Bind(ParamPost, &s))
	assert.Equal(t, signup{Name: "ada", Age: 36, Agreed: true}, s)

	var bad signup
	err = in.Bind(ParamGet, &bad)
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.True(t, IsBadInput(err), "validation failures are client errors")

	err = in.Bind("session", &s)
	require.Error(t, err)
	assert.False(t, IsBadInput(err))
}
