package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	ParseErrorReset = "reset"
	ParseErrorAbort = "abort"
)

type Config struct {
	CatalogPath         string   `json:"catalog_path"`
	ServersDir          string   `json:"servers_dir"`
	WorkspaceDir        string   `json:"workspace_dir"`
	DataDir             string   `json:"data_dir"`
	DockerfilesDir      string   `json:"dockerfiles_dir"`
	FetchTimeoutSec     int      `json:"fetch_timeout_sec"`
	InstallTimeoutMin   int      `json:"install_timeout_min"`
	BuildTimeoutMin     int      `json:"build_timeout_min"`
	ConcurrentDiscovery bool     `json:"concurrent_discovery"`
	OnParseError        string   `json:"on_parse_error"`
	Targets             []string `json:"targets,omitempty"`
	WebHost             string   `json:"web_host"`
	WebPort             int      `json:"web_port"`
	WebPasswordHash     string   `json:"web_password_hash,omitempty"`
	GitHubToken         string   `json:"github_token,omitempty"`
	RefreshIntervalMin  int      `json:"refresh_interval_min"`
	Debug               bool     `json:"debug,omitempty"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		CatalogPath:         filepath.Join(ConfigDir(), "catalog.json"),
		ServersDir:          filepath.Join(home, "mcp-servers"),
		WorkspaceDir:        filepath.Join(home, "mcp-workspace"),
		DataDir:             filepath.Join(home, "mcp-data"),
		DockerfilesDir:      filepath.Join(ConfigDir(), "docker"),
		FetchTimeoutSec:     8,
		InstallTimeoutMin:   5,
		BuildTimeoutMin:     20,
		ConcurrentDiscovery: true,
		OnParseError:        ParseErrorReset,
		WebHost:             "localhost",
		WebPort:             7788,
		RefreshIntervalMin:  60,
	}
}

func ConfigDir() string {
	if dir := os.Getenv("MCPSETUP_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mcpsetup")
}

func Path() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load reads the config file, creating it with defaults on first run.
func Load() (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			if saveErr := Save(cfg); saveErr != nil {
				return cfg, saveErr
			}
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.normalize()
	applyEnv(&cfg)
	return cfg, nil
}

func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(Path(), data, 0644)
}

// normalize fills zero values a hand-edited file may have left behind.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.FetchTimeoutSec <= 0 {
		c.FetchTimeoutSec = def.FetchTimeoutSec
	}
	if c.InstallTimeoutMin <= 0 {
		c.InstallTimeoutMin = def.InstallTimeoutMin
	}
	if c.BuildTimeoutMin <= 0 {
		c.BuildTimeoutMin = def.BuildTimeoutMin
	}
	if c.WebPort == 0 {
		c.WebPort = def.WebPort
	}
	switch strings.ToLower(c.OnParseError) {
	case ParseErrorAbort:
		c.OnParseError = ParseErrorAbort
	default:
		c.OnParseError = ParseErrorReset
	}
	c.CatalogPath = expandHome(c.CatalogPath)
	c.ServersDir = expandHome(c.ServersDir)
	c.WorkspaceDir = expandHome(c.WorkspaceDir)
	c.DataDir = expandHome(c.DataDir)
	c.DockerfilesDir = expandHome(c.DockerfilesDir)
}

// applyEnv honours the workspace and data overrides the docker volume
// templates also use.
func applyEnv(c *Config) {
	if v := os.Getenv("MCP_WORKSPACE_PATH"); v != "" {
		c.WorkspaceDir = expandHome(v)
	}
	if v := os.Getenv("MCP_DATA_PATH"); v != "" {
		c.DataDir = expandHome(v)
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" && c.GitHubToken == "" {
		c.GitHubToken = v
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, p[1:])
	}
	return p
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

func (c Config) InstallTimeout() time.Duration {
	return time.Duration(c.InstallTimeoutMin) * time.Minute
}

func (c Config) BuildTimeout() time.Duration {
	return time.Duration(c.BuildTimeoutMin) * time.Minute
}

// TargetEnabled reports whether writes to target id are allowed. An empty
// list enables every detected target.
func (c Config) TargetEnabled(id string) bool {
	if len(c.Targets) == 0 {
		return true
	}
	for _, t := range c.Targets {
		if t == id {
			return true
		}
	}
	return false
}

func (c Config) HistoryPath() string {
	return filepath.Join(ConfigDir(), "history.db")
}

func (c Config) LogDir() string {
	return filepath.Join(ConfigDir(), "logs")
}

func (c Config) TemplatesPath() string {
	return filepath.Join(ConfigDir(), "templates.json")
}
