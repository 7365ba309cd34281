package pathutil

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const sep = string(os.PathListSeparator)

// ToolsDir is where tools installed by direct download live.
func ToolsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "mcpsetup", "tools")
}

// AugmentPath probes for well-known tool directories and adds them to the
// process PATH. Call once at startup so exec finds node, npm globals, uv,
// python and docker regardless of how the process was launched.
func AugmentPath() {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if home == "" {
		return
	}

	var extra []string
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		local := os.Getenv("LOCALAPPDATA")
		extra = []string{
			filepath.Join(appData, "npm"),
			filepath.Join(`C:\Program Files`, "nodejs"),
			filepath.Join(`C:\Program Files`, "Git", "cmd"),
			filepath.Join(`C:\Program Files`, "Docker", "Docker", "resources", "bin"),
			filepath.Join(local, "Microsoft", "WindowsApps"),
			filepath.Join(home, ".local", "bin"),
		}
	} else {
		extra = []string{
			filepath.Join(home, "bin"),
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".npm-global", "bin"),
			filepath.Join(home, ".cargo", "bin"),
			filepath.Join(home, ".pyenv", "shims"),
			"/usr/local/bin",
			"/usr/bin",
			"/opt/homebrew/bin",
			"/snap/bin",
		}
	}

	// Tools we installed ourselves.
	if entries, err := os.ReadDir(ToolsDir()); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(ToolsDir(), e.Name())
			extra = append(extra, dir, filepath.Join(dir, "bin"))
		}
	}

	// nvm's latest installed node version.
	nvmDir := filepath.Join(home, ".nvm", "versions", "node")
	if entries, err := os.ReadDir(nvmDir); err == nil {
		for i := len(entries) - 1; i >= 0; i-- {
			if !entries[i].IsDir() {
				continue
			}
			binDir := filepath.Join(nvmDir, entries[i].Name(), "bin")
			if _, err := os.Stat(binDir); err == nil {
				extra = append(extra, binDir)
				break
			}
		}
	}

	current := os.Getenv("PATH")
	existing := make(map[string]bool)
	for _, p := range strings.Split(current, sep) {
		existing[p] = true
	}

	var toAdd []string
	for _, p := range extra {
		if existing[p] {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			toAdd = append(toAdd, p)
			existing[p] = true
		}
	}

	if len(toAdd) > 0 {
		os.Setenv("PATH", current+sep+strings.Join(toAdd, sep))
	}
}

// Prepend puts dir at the front of the process PATH unless already present.
func Prepend(dir string) bool {
	current := os.Getenv("PATH")
	for _, p := range strings.Split(current, sep) {
		if p == dir {
			return false
		}
	}
	if current == "" {
		os.Setenv("PATH", dir)
	} else {
		os.Setenv("PATH", dir+sep+current)
	}
	return true
}

var openRC = func(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// Persist makes dir part of PATH for future shells: the user PATH on
// Windows, a line in the shell rc files elsewhere.
func Persist(dir string) error {
	if runtime.GOOS == "windows" {
		return persistWindows(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	line := fmt.Sprintf("\nexport PATH=\"%s:$PATH\"\n", dir)
	for _, rc := range []string{".bashrc", ".zshrc", ".profile"} {
		path := filepath.Join(home, rc)
		content, err := os.ReadFile(path)
		if err != nil {
			if rc != ".bashrc" {
				continue
			}
		}
		if strings.Contains(string(content), dir) {
			continue
		}
		f, err := openRC(path)
		if err != nil {
			return err
		}
		_, werr := io.WriteString(f, line)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("writing %s: %w", path, werr)
		}
		if cerr != nil {
			return fmt.Errorf("writing %s: %w", path, cerr)
		}
	}
	return nil
}

func persistWindows(dir string) error {
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		"[Environment]::GetEnvironmentVariable('Path','User')").Output()
	if err != nil {
		return fmt.Errorf("reading user PATH: %w", err)
	}
	userPath := strings.TrimSpace(string(out))
	for _, p := range strings.Split(userPath, sep) {
		if strings.EqualFold(p, dir) {
			return nil
		}
	}
	next := dir
	if userPath != "" {
		next = userPath + sep + dir
	}
	if out, err := exec.Command("setx", "PATH", next).CombinedOutput(); err != nil {
		return fmt.Errorf("setx failed: %s: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RefreshFromSystem re-reads machine and user PATH on Windows so tools
// installed by winget become visible without a restart.
func RefreshFromSystem() {
	if runtime.GOOS != "windows" {
		AugmentPath()
		return
	}
	out, err := exec.Command("powershell", "-NoProfile", "-Command",
		"[Environment]::GetEnvironmentVariable('Path','Machine') + ';' + [Environment]::GetEnvironmentVariable('Path','User')").Output()
	if err != nil {
		return
	}
	fresh := strings.TrimSpace(string(out))
	if fresh == "" {
		return
	}
	for _, p := range strings.Split(fresh, sep) {
		if p != "" {
			appendIfMissing(p)
		}
	}
}

func appendIfMissing(dir string) {
	current := os.Getenv("PATH")
	for _, p := range strings.Split(current, sep) {
		if strings.EqualFold(p, dir) {
			return
		}
	}
	os.Setenv("PATH", current+sep+dir)
}
