package jsontree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsKeyOrder(t *testing.T) {
	doc, err := Parse([]byte(`{"zeta": 1, "alpha": {"b": true, "a": null}, "mid": [1, "x"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, doc.Keys())
	alpha, ok := doc.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, alpha.Keys())

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":{"b":true,"a":null},"mid":[1,"x"]}`, string(out))
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{`{"a":`, `{"a" 1}`, `{} {}`, `[1,]`} {
		_, err := Parse([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestSetCreatesIntermediates(t *testing.T) {
	doc := NewObject()
	require.NoError(t, doc.Set("mcp.servers.git", NewString("x")))

	v, ok := doc.Get("mcp.servers.git")
	require.True(t, ok)
	assert.Equal(t, "x", v.Str())
}

func TestSetThroughScalarFails(t *testing.T) {
	doc, err := Parse([]byte(`{"mcpServers": "oops"}`))
	require.NoError(t, err)

	err = doc.Set("mcpServers.git", NewObject())
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestSetThroughNullCreatesObject(t *testing.T) {
	doc, err := Parse([]byte(`{"a": 1, "mcpServers": null, "z": 2}`))
	require.NoError(t, err)

	require.NoError(t, doc.Set("mcpServers.git", NewString("x")))
	assert.Equal(t, []string{"a", "mcpServers", "z"}, doc.Keys())
	v, ok := doc.Get("mcpServers.git")
	require.True(t, ok)
	assert.Equal(t, "x", v.Str())
}

func TestReplaceKeepsPosition(t *testing.T) {
	doc, err := Parse([]byte(`{"a":1,"b":2,"c":3}`))
	require.NoError(t, err)

	require.NoError(t, doc.SetField("b", NewString("two")))
	assert.Equal(t, []string{"a", "b", "c"}, doc.Keys())

	assert.True(t, doc.Delete("a"))
	assert.False(t, doc.Delete("missing.key"))
	assert.Equal(t, []string{"b", "c"}, doc.Keys())
}

func TestSetAtAllowsDottedKeys(t *testing.T) {
	doc := NewObject()
	require.NoError(t, doc.SetAt([]string{"servers", "io.github.acme"}, NewBool(true)))

	servers, ok := doc.Get("servers")
	require.True(t, ok)
	assert.Equal(t, []string{"io.github.acme"}, servers.Keys())
}

func TestFromValueAndDecode(t *testing.T) {
	n, err := FromValue(map[string]any{
		"command": "npx",
		"args":    []string{"-y", "pkg"},
		"env":     map[string]string{"B": "2", "A": "1"},
	})
	require.NoError(t, err)

	env, ok := n.Get("env")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, env.Keys())

	var out struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	require.NoError(t, n.Decode(&out))
	assert.Equal(t, "npx", out.Command)
	assert.Equal(t, []string{"-y", "pkg"}, out.Args)
}

func TestCloneIsDeep(t *testing.T) {
	doc, err := Parse([]byte(`{"a":{"b":[1]}}`))
	require.NoError(t, err)

	c := doc.Clone()
	require.NoError(t, c.Set("a.c", NewBool(true)))

	_, ok := doc.Get("a.c")
	assert.False(t, ok)
}

func TestParseYAMLKeepsOrder(t *testing.T) {
	doc, err := ParseYAML([]byte("name: git\nport: 8080\nenabled: true\nargs:\n  - a\n  - b\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "port", "enabled", "args"}, doc.Keys())
	port, _ := doc.Get("port")
	assert.Equal(t, Number, port.Kind())
	enabled, _ := doc.Get("enabled")
	assert.True(t, enabled.BoolValue())
	args, _ := doc.Get("args")
	assert.Len(t, args.Items(), 2)
}

func TestIndentEndsWithNewline(t *testing.T) {
	doc := NewObject()
	require.NoError(t, doc.SetField("a", NewNumber("1")))
	out, err := doc.Indent()
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}\n", string(out))
}
