// Package targets knows where each IDE keeps its MCP server list and how to
// merge one server into that file without disturbing anything else.
package targets

import (
	"os"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// Target is one IDE or IDE extension config file.
type Target struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ConfigFile string   `json:"config_file"`
	KeyPath    string   `json:"key_path"`
	Format     Format   `json:"format"`
	Parent     string   `json:"parent,omitempty"`
	Extensions []Target `json:"extensions,omitempty"`
	// Markers are paths (globs allowed) whose presence means the IDE is
	// installed. The config file itself always counts.
	Markers []string `json:"-"`
}

// All returns the target followed by its extensions.
func (t Target) All() []Target {
	out := []Target{t}
	for _, e := range t.Extensions {
		e.Parent = t.ID
		out = append(out, e)
	}
	return out
}

// Known lists the supported targets with paths resolved for goos. getenv
// is consulted for APPDATA, LOCALAPPDATA, PROGRAMFILES and CODEX_HOME.
func Known(home, goos string, getenv func(string) string) []Target {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	appData := getenv("APPDATA")
	if appData == "" {
		appData = filepath.Join(home, "AppData", "Roaming")
	}
	localAppData := getenv("LOCALAPPDATA")
	if localAppData == "" {
		localAppData = filepath.Join(home, "AppData", "Local")
	}
	programFiles := getenv("PROGRAMFILES")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}

	// userDir is where Electron editors keep per-user state.
	userDir := func(app string) string {
		switch goos {
		case "windows":
			return filepath.Join(appData, app)
		case "darwin":
			return filepath.Join(home, "Library", "Application Support", app)
		}
		return filepath.Join(home, ".config", app)
	}

	codeUser := filepath.Join(userDir("Code"), "User")
	extDir := filepath.Join(home, ".vscode", "extensions")

	vscode := Target{
		ID:         "vscode",
		Name:       "VS Code",
		ConfigFile: filepath.Join(codeUser, "mcp.json"),
		KeyPath:    "servers",
		Format:     FormatJSON,
		Markers:    appMarkers(goos, home, localAppData, programFiles, "Microsoft VS Code", "Code.exe", "Visual Studio Code.app", "code"),
		Extensions: []Target{
			{
				ID:         "cline",
				Name:       "Cline",
				ConfigFile: filepath.Join(codeUser, "globalStorage", "saoudrizwan.claude-dev", "settings", "cline_mcp_settings.json"),
				KeyPath:    "mcpServers",
				Format:     FormatJSON,
				Markers: []string{
					filepath.Join(extDir, "saoudrizwan.claude-dev-*"),
					filepath.Join(home, ".vscode-server", "extensions", "saoudrizwan.claude-dev-*"),
				},
			},
			{
				ID:         "roo",
				Name:       "Roo",
				ConfigFile: filepath.Join(codeUser, "globalStorage", "rooveterinaryinc.roo-cline", "settings", "mcp_settings.json"),
				KeyPath:    "mcpServers",
				Format:     FormatJSON,
				Markers: []string{
					filepath.Join(extDir, "rooveterinaryinc.roo-cline-*"),
					filepath.Join(home, ".vscode-server", "extensions", "rooveterinaryinc.roo-cline-*"),
				},
			},
		},
	}
	vscode.Markers = append(vscode.Markers, extDir)

	codexHome := getenv("CODEX_HOME")
	if codexHome == "" {
		codexHome = filepath.Join(home, ".codex")
	}

	return []Target{
		{
			ID:         "claude-desktop",
			Name:       "Claude Desktop",
			ConfigFile: filepath.Join(userDir("Claude"), "claude_desktop_config.json"),
			KeyPath:    "mcpServers",
			Format:     FormatJSON,
			Markers:    append(appMarkers(goos, home, localAppData, programFiles, "Claude", "Claude.exe", "Claude.app", ""), userDir("Claude")),
		},
		{
			ID:         "claude-code",
			Name:       "Claude Code",
			ConfigFile: filepath.Join(home, ".claude", "settings.json"),
			KeyPath:    "mcpServers",
			Format:     FormatJSON,
			Markers:    []string{filepath.Join(home, ".claude"), filepath.Join(home, ".local", "bin", "claude")},
		},
		vscode,
		{
			ID:         "cursor",
			Name:       "Cursor",
			ConfigFile: filepath.Join(home, ".cursor", "mcp.json"),
			KeyPath:    "mcpServers",
			Format:     FormatJSON,
			Markers:    append(appMarkers(goos, home, localAppData, programFiles, "cursor", "Cursor.exe", "Cursor.app", "cursor"), filepath.Join(home, ".cursor")),
		},
		{
			ID:         "windsurf",
			Name:       "Windsurf",
			ConfigFile: filepath.Join(home, ".codeium", "windsurf", "mcp_config.json"),
			KeyPath:    "mcpServers",
			Format:     FormatJSON,
			Markers:    append(appMarkers(goos, home, localAppData, programFiles, "Windsurf", "Windsurf.exe", "Windsurf.app", "windsurf"), filepath.Join(home, ".codeium", "windsurf")),
		},
		{
			ID:         "codex",
			Name:       "Codex CLI",
			ConfigFile: filepath.Join(codexHome, "config.toml"),
			KeyPath:    "mcp_servers",
			Format:     FormatTOML,
			Markers:    []string{codexHome},
		},
	}
}

// appMarkers lists the usual install locations of a desktop app.
func appMarkers(goos, home, localAppData, programFiles, dir, exe, bundle, bin string) []string {
	switch goos {
	case "windows":
		return []string{
			filepath.Join(localAppData, "Programs", dir, exe),
			filepath.Join(programFiles, dir, exe),
		}
	case "darwin":
		return []string{
			filepath.Join("/Applications", bundle),
			filepath.Join(home, "Applications", bundle),
		}
	}
	if bin == "" {
		return []string{"/opt/" + dir}
	}
	return []string{
		filepath.Join("/usr/bin", bin),
		filepath.Join("/usr/local/bin", bin),
		filepath.Join("/snap/bin", bin),
		filepath.Join(home, ".local", "bin", bin),
	}
}

// Find looks up id among targets and their extensions.
func Find(targets []Target, id string) (Target, bool) {
	for _, t := range targets {
		for _, sub := range t.All() {
			if sub.ID == id {
				return sub, true
			}
		}
	}
	return Target{}, false
}

// IDs returns every target and extension id.
func IDs(targets []Target) []string {
	var ids []string
	for _, t := range targets {
		for _, sub := range t.All() {
			ids = append(ids, sub.ID)
		}
	}
	return ids
}

// Installed reports whether the target's config file or any marker exists.
func (t Target) Installed() bool {
	if fileExists(t.ConfigFile) {
		return true
	}
	for _, m := range t.Markers {
		if strings.ContainsAny(m, "*?[") {
			if matches, _ := filepath.Glob(m); len(matches) > 0 {
				return true
			}
			continue
		}
		if fileExists(m) {
			return true
		}
	}
	return false
}

// Detect keeps the installed targets. Extensions are kept only when they
// are installed themselves.
func Detect(targets []Target) []Target {
	var out []Target
	for _, t := range targets {
		var exts []Target
		for _, e := range t.Extensions {
			if e.Installed() {
				exts = append(exts, e)
			}
		}
		if !t.Installed() && len(exts) == 0 {
			continue
		}
		t.Extensions = exts
		out = append(out, t)
	}
	return out
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
