package targets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonTarget(dir, keyPath string) Target {
	return Target{ID: "test", Name: "Test", ConfigFile: filepath.Join(dir, "nested", "mcp.json"), KeyPath: keyPath, Format: FormatJSON}
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestApplyServerKeepsSiblings(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	require.NoError(t, os.MkdirAll(filepath.Dir(tgt.ConfigFile), 0755))
	existing := `{
  "theme": "dark",
  "mcpServers": {
    "old": {"command": "old-cmd", "args": ["x"], "custom": 1}
  },
  "zzz": [1, 2, 3]
}`
	require.NoError(t, os.WriteFile(tgt.ConfigFile, []byte(existing), 0600))

	w := NewWriter(PolicyReset, nil)
	require.NoError(t, w.ApplyServer(tgt, "alpha", Entry{Command: "npx", Args: []string{"-y", "alpha"}}))
	require.NoError(t, w.ApplyServer(tgt, "beta", Entry{Command: "uvx", Args: []string{"beta"}, Env: map[string]string{"TOKEN": "t"}}))

	doc := readJSON(t, tgt.ConfigFile)
	assert.Equal(t, "dark", doc["theme"])
	assert.Equal(t, []any{1.0, 2.0, 3.0}, doc["zzz"])
	servers := doc["mcpServers"].(map[string]any)
	assert.Len(t, servers, 3)
	assert.Equal(t, map[string]any{"command": "old-cmd", "args": []any{"x"}, "custom": 1.0}, servers["old"])
	assert.Equal(t, map[string]any{"command": "npx", "args": []any{"-y", "alpha"}, "enabled": true}, servers["alpha"])
	assert.Equal(t, map[string]any{"TOKEN": "t"}, servers["beta"].(map[string]any)["env"])

	raw, _ := os.ReadFile(tgt.ConfigFile)
	text := string(raw)
	assert.Less(t, strings.Index(text, `"theme"`), strings.Index(text, `"mcpServers"`))
	assert.Less(t, strings.Index(text, `"mcpServers"`), strings.Index(text, `"zzz"`))
	assert.Less(t, strings.Index(text, `"old"`), strings.Index(text, `"alpha"`))

	info, err := os.Stat(tgt.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRoundTrip(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcp.servers")
	w := NewWriter(PolicyReset, nil)
	want := Entry{Command: "docker", Args: []string{"run", "-i", "--rm", "mcp-memory:latest"}, Env: map[string]string{"A": "1"}, Enabled: true}
	require.NoError(t, w.ApplyServer(tgt, "memory", want))
	require.NoError(t, w.ApplyServer(tgt, "memory", want))

	servers, err := w.ListServers(tgt)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "memory", servers[0].ID)
	assert.Equal(t, want, servers[0].Entry)

	doc := readJSON(t, tgt.ConfigFile)
	assert.Contains(t, doc["mcp"].(map[string]any)["servers"], "memory")
}

func TestMalformedFileResets(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	require.NoError(t, os.MkdirAll(filepath.Dir(tgt.ConfigFile), 0755))
	require.NoError(t, os.WriteFile(tgt.ConfigFile, []byte(`{"mcpServers": {"a": `), 0644))

	w := NewWriter(PolicyReset, nil)
	results := w.ApplyAll(tgt, "fresh", Entry{Command: "npx", Args: []string{"fresh"}})
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Contains(t, results[0].Warning, "starting from an empty document")

	doc := readJSON(t, tgt.ConfigFile)
	assert.Len(t, doc, 1)
	assert.Equal(t, []string{"fresh"}, keys(doc["mcpServers"].(map[string]any)))
}

func TestMalformedFileAborts(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	require.NoError(t, os.MkdirAll(filepath.Dir(tgt.ConfigFile), 0755))
	broken := []byte(`[1, 2`)
	require.NoError(t, os.WriteFile(tgt.ConfigFile, broken, 0644))

	w := NewWriter(PolicyAbort, nil)
	err := w.ApplyServer(tgt, "fresh", Entry{Command: "npx"})
	assert.ErrorIs(t, err, ErrConfigParse)

	data, err := os.ReadFile(tgt.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, broken, data)
}

func TestNonObjectTopLevelIsParseError(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	require.NoError(t, os.MkdirAll(filepath.Dir(tgt.ConfigFile), 0755))
	require.NoError(t, os.WriteFile(tgt.ConfigFile, []byte(`["a"]`), 0644))
	_, err := NewWriter(PolicyAbort, nil).Read(tgt)
	assert.ErrorIs(t, err, ErrConfigParse)
}

func TestEmptyAndBOMFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(PolicyAbort, nil)

	empty := Target{ID: "e", ConfigFile: filepath.Join(dir, "empty.json"), KeyPath: "mcpServers", Format: FormatJSON}
	require.NoError(t, os.WriteFile(empty.ConfigFile, []byte("  \n"), 0644))
	require.NoError(t, w.ApplyServer(empty, "a", Entry{Command: "a"}))

	bom := Target{ID: "b", ConfigFile: filepath.Join(dir, "bom.json"), KeyPath: "mcpServers", Format: FormatJSON}
	require.NoError(t, os.WriteFile(bom.ConfigFile, append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"keep": true}`)...), 0644))
	require.NoError(t, w.ApplyServer(bom, "a", Entry{Command: "a"}))
	assert.Equal(t, true, readJSON(t, bom.ConfigFile)["keep"])
}

func TestKeyPathThroughScalarFails(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	require.NoError(t, os.MkdirAll(filepath.Dir(tgt.ConfigFile), 0755))
	require.NoError(t, os.WriteFile(tgt.ConfigFile, []byte(`{"mcpServers": "nope"}`), 0644))
	err := NewWriter(PolicyReset, nil).ApplyServer(tgt, "a", Entry{Command: "a"})
	assert.ErrorIs(t, err, ErrConfigWrite)
}

func TestNullKeyPathIsCreated(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	require.NoError(t, os.MkdirAll(filepath.Dir(tgt.ConfigFile), 0755))
	require.NoError(t, os.WriteFile(tgt.ConfigFile, []byte(`{"theme": "dark", "mcpServers": null}`), 0644))

	require.NoError(t, NewWriter(PolicyReset, nil).ApplyServer(tgt, "a", Entry{Command: "a"}))
	doc := readJSON(t, tgt.ConfigFile)
	assert.Equal(t, "dark", doc["theme"])
	servers := doc["mcpServers"].(map[string]any)
	assert.Equal(t, "a", servers["a"].(map[string]any)["command"])
}

func TestApplyAllIsNotTransactional(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0644))

	parent := Target{
		ID: "vscode", ConfigFile: filepath.Join(dir, "Code", "User", "mcp.json"), KeyPath: "servers", Format: FormatJSON,
		Extensions: []Target{
			{ID: "cline", ConfigFile: filepath.Join(blocker, "cline.json"), KeyPath: "mcpServers", Format: FormatJSON},
			{ID: "roo", ConfigFile: filepath.Join(dir, "roo", "mcp_settings.json"), KeyPath: "mcpServers", Format: FormatJSON},
		},
	}

	results := NewWriter(PolicyReset, nil).ApplyAll(parent, "git", Entry{Command: "uvx", Args: []string{"mcp-server-git"}})
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.Equal(t, "cline", results[1].Target)
	assert.ErrorIs(t, results[1].Err, ErrConfigWrite)
	assert.True(t, results[2].OK())

	assert.Contains(t, readJSON(t, parent.ConfigFile)["servers"], "git")
	assert.Contains(t, readJSON(t, parent.Extensions[1].ConfigFile)["mcpServers"], "git")
}

func TestTOMLTarget(t *testing.T) {
	dir := t.TempDir()
	tgt := Target{ID: "codex", ConfigFile: filepath.Join(dir, "config.toml"), KeyPath: "mcp_servers", Format: FormatTOML}
	require.NoError(t, os.WriteFile(tgt.ConfigFile, []byte("model = \"o4\"\n\n[mcp_servers.old]\ncommand = \"old\"\nargs = [\"x\"]\n"), 0644))

	w := NewWriter(PolicyReset, nil)
	require.NoError(t, w.ApplyServer(tgt, "fetch", Entry{Command: "uvx", Args: []string{"mcp-server-fetch"}, Env: map[string]string{"K": "v"}}))

	var doc struct {
		Model      string `toml:"model"`
		MCPServers map[string]struct {
			Command string            `toml:"command"`
			Args    []string          `toml:"args"`
			Env     map[string]string `toml:"env"`
			Enabled bool              `toml:"enabled"`
		} `toml:"mcp_servers"`
	}
	_, err := toml.DecodeFile(tgt.ConfigFile, &doc)
	require.NoError(t, err)
	assert.Equal(t, "o4", doc.Model)
	assert.Equal(t, "old", doc.MCPServers["old"].Command)
	assert.Equal(t, "uvx", doc.MCPServers["fetch"].Command)
	assert.Equal(t, []string{"mcp-server-fetch"}, doc.MCPServers["fetch"].Args)
	assert.Equal(t, "v", doc.MCPServers["fetch"].Env["K"])
	assert.True(t, doc.MCPServers["fetch"].Enabled)

	servers, err := w.ListServers(tgt)
	require.NoError(t, err)
	assert.Len(t, servers, 2)
}

func TestRemoveServer(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	w := NewWriter(PolicyReset, nil)

	removed, err := w.RemoveServer(tgt, "a")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoFileExists(t, tgt.ConfigFile)

	require.NoError(t, w.ApplyServer(tgt, "a", Entry{Command: "a"}))
	require.NoError(t, w.ApplyServer(tgt, "b", Entry{Command: "b"}))
	removed, err = w.RemoveServer(tgt, "a")
	require.NoError(t, err)
	assert.True(t, removed)

	servers, err := w.ListServers(tgt)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "b", servers[0].ID)
}

func TestListServersHonoursDisabled(t *testing.T) {
	tgt := jsonTarget(t.TempDir(), "mcpServers")
	require.NoError(t, os.MkdirAll(filepath.Dir(tgt.ConfigFile), 0755))
	require.NoError(t, os.WriteFile(tgt.ConfigFile, []byte(`{"mcpServers": {"a": {"command": "x", "disabled": true}, "b": "junk"}}`), 0644))
	servers, err := NewWriter(PolicyReset, nil).ListServers(tgt)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.False(t, servers[0].Enabled)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
