package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	require.NotEmpty(t, c.Servers)
	for _, d := range c.List() {
		assert.NoError(t, d.Validate(), d.ID)
		assert.Equal(t, "local", d.Source)
		assert.NotEmpty(t, d.Prerequisites, d.ID)
	}
	for _, name := range c.ProfileNames() {
		_, err := c.Profile(name)
		assert.NoError(t, err, name)
	}
}

func TestParseYAMLCatalog(t *testing.T) {
	data := []byte(`
servers:
  echo:
    name: Echo
    kind: npm
    spec:
      package: echo-mcp
profiles:
  one:
    servers: [echo]
`)
	c, err := Parse(data, ".yaml")
	require.NoError(t, err)

	d, ok := c.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", d.ID)
	assert.Equal(t, KindNPM, d.Kind)
	assert.Equal(t, []string{"node", "npm"}, d.Prerequisites)

	ds, err := c.Profile("one")
	require.NoError(t, err)
	assert.Len(t, ds, 1)

	_, err = c.Profile("missing")
	assert.Error(t, err)
}

func TestFallbackDescriptorIsSingleHop(t *testing.T) {
	d := Default().Servers["filesystem"]
	fb, ok := d.FallbackDescriptor()
	require.True(t, ok)

	assert.Equal(t, KindNPM, fb.Kind)
	assert.Nil(t, fb.Fallback)
	assert.Equal(t, []string{"node", "npm"}, fb.Prerequisites)

	_, ok = fb.FallbackDescriptor()
	assert.False(t, ok)
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"@modelcontextprotocol/server-git", "git"},
		{"mcp-server-git", "git"},
		{"git-mcp", "git"},
		{"io.github.acme/git-mcp-server", "git"},
		{"Brave Search", "brave-search"},
		{"@scope/weather-mcp", "weather"},
		{"mcp/fetch", "fetch"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeID(tt.in), tt.in)
	}
}

func TestAppendDiscoveredOnlyAddsNewIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "servers": {
    "git": {"name": "Mine", "kind": "npm", "spec": {"package": "my-git"}}
  },
  "extra": {"keep": true}
}`), 0644))

	added, err := AppendDiscovered(path, []ServerDescriptor{
		{ID: "git", Name: "Theirs", Kind: KindNPM, Spec: InstallSpec{Package: "other"}},
		{ID: "weather", Name: "Weather", Kind: KindNPM, Spec: InstallSpec{Package: "weather-mcp"}, Source: "npm"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, added)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Mine", c.Servers["git"].Name)
	assert.Equal(t, "npm", c.Servers["weather"].Source)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"keep": true`)
}

func TestAppendDiscoveredKeepsYAMLEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`# hand-maintained
servers:
  git:
    name: Mine
    kind: npm
    spec:
      package: my-git
`), 0644))

	added, err := AppendDiscovered(path, []ServerDescriptor{
		{ID: "git", Name: "Theirs", Kind: KindNPM, Spec: InstallSpec{Package: "other"}},
		{ID: "weather", Name: "Weather", Kind: KindNPM, Spec: InstallSpec{Package: "weather-mcp"}, Source: "npm"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"weather"}, added)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "# hand-maintained")
	assert.Contains(t, text, "  git:\n    name: Mine\n    kind: npm\n    spec:\n      package: my-git\n")
	assert.Equal(t, 1, strings.Count(text, "source:"), "only the new entry carries a source")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Mine", c.Servers["git"].Name)
	assert.Equal(t, "npm", c.Servers["weather"].Source)
}

func TestEnsureFileWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.yaml")
	require.NoError(t, EnsureFile(path))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, len(Default().Servers), len(c.Servers))
}

func TestMissingEnv(t *testing.T) {
	d := ServerDescriptor{Spec: InstallSpec{
		RequiredEnv: []string{"A", "B", "C"},
		Env:         map[string]string{"A": "set"},
	}}
	lookup := func(k string) (string, bool) {
		if k == "B" {
			return "from-env", true
		}
		return "", false
	}
	assert.Equal(t, []string{"C"}, d.MissingEnv(lookup))
}
