package targets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownWindowsPaths(t *testing.T) {
	env := map[string]string{
		"APPDATA":      `C:\Users\me\AppData\Roaming`,
		"LOCALAPPDATA": `C:\Users\me\AppData\Local`,
	}
	all := Known(`C:\Users\me`, "windows", func(k string) string { return env[k] })

	cline, ok := Find(all, "cline")
	require.True(t, ok)
	assert.Equal(t, "vscode", cline.Parent)
	assert.Equal(t, filepath.Join(env["APPDATA"], "Code", "User", "globalStorage", "saoudrizwan.claude-dev", "settings", "cline_mcp_settings.json"), cline.ConfigFile)

	desktop, ok := Find(all, "claude-desktop")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(env["APPDATA"], "Claude", "claude_desktop_config.json"), desktop.ConfigFile)
}

func TestKnownPerPlatform(t *testing.T) {
	mac := Known("/Users/me", "darwin", nil)
	vscode, _ := Find(mac, "vscode")
	assert.Equal(t, filepath.Join("/Users/me", "Library", "Application Support", "Code", "User", "mcp.json"), vscode.ConfigFile)
	assert.Equal(t, "servers", vscode.KeyPath)

	linux := Known("/home/me", "linux", func(k string) string {
		if k == "CODEX_HOME" {
			return "/srv/codex"
		}
		return ""
	})
	codex, _ := Find(linux, "codex")
	assert.Equal(t, FormatTOML, codex.Format)
	assert.Equal(t, filepath.Join("/srv/codex", "config.toml"), codex.ConfigFile)

	assert.ElementsMatch(t,
		[]string{"claude-desktop", "claude-code", "vscode", "cline", "roo", "cursor", "windsurf", "codex"},
		IDs(linux))

	_, ok := Find(linux, "emacs")
	assert.False(t, ok)
}

func TestDetect(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".cursor"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".vscode", "extensions", "rooveterinaryinc.roo-cline-3.1.0"), 0755))

	found := Detect(Known(home, "linux", nil))
	var ids []string
	for _, tg := range found {
		ids = append(ids, tg.ID)
	}
	assert.Contains(t, ids, "cursor")
	assert.Contains(t, ids, "vscode")
	assert.NotContains(t, ids, "windsurf")

	vscode, ok := Find(found, "roo")
	require.True(t, ok)
	assert.Equal(t, "vscode", vscode.Parent)
	_, ok = Find(found, "cline")
	assert.False(t, ok)
}
