// Package prereq checks for the external tools servers need and installs
// missing ones through ordered fallback strategies.
package prereq

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/JuanVilla424/mcpsetup/internal/metrics"
	"github.com/JuanVilla424/mcpsetup/internal/pathutil"
	"github.com/JuanVilla424/mcpsetup/internal/shell"
)

// State is the cached result of probing one tool.
type State struct {
	Tool      string    `json:"tool"`
	Installed bool      `json:"installed"`
	Version   string    `json:"version,omitempty"`
	Command   string    `json:"command,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Strategy is one way of installing a tool. Strategies for a tool are tried
// in order, once each.
type Strategy struct {
	Name    string
	Install func(ctx context.Context) error
}

type probe struct {
	commands []string
	minMajor int
	minMinor int
}

var probes = map[string]probe{
	"node":   {commands: []string{"node", "nodejs"}, minMajor: 16},
	"npm":    {commands: []string{"npm"}},
	"python": {commands: []string{"python3", "python", "py"}, minMajor: 3, minMinor: 8},
	"git":    {commands: []string{"git"}},
	"docker": {commands: []string{"docker"}},
	"winget": {commands: []string{"winget"}},
	"uv":     {commands: []string{"uv"}},
}

var versionRe = regexp.MustCompile(`\d+(\.\d+)+`)

type Resolver struct {
	runner      shell.Runner
	logger      hclog.Logger
	goos        string
	goarch      string
	toolsDir    string
	timeout     time.Duration
	refreshPath func()
	persistPath func(dir string) error
	httpClient  *http.Client

	mu         sync.RWMutex
	cache      map[string]State
	strategies map[string][]Strategy
	group      singleflight.Group
}

type Option func(*Resolver)

func WithPlatform(goos, goarch string) Option {
	return func(r *Resolver) {
		r.goos = goos
		r.goarch = goarch
	}
}

func WithToolsDir(dir string) Option {
	return func(r *Resolver) { r.toolsDir = dir }
}

func WithInstallTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithHTTPClient sets the client used for archive downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithPathHooks replaces the PATH refresh run after each strategy and the
// persister used when a tool lands in the tools dir.
func WithPathHooks(refresh func(), persist func(dir string) error) Option {
	return func(r *Resolver) {
		r.refreshPath = refresh
		r.persistPath = persist
	}
}

func New(runner shell.Runner, logger hclog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Resolver{
		runner:      runner,
		logger:      logger.Named("prereq"),
		goos:        runtime.GOOS,
		goarch:      runtime.GOARCH,
		toolsDir:    pathutil.ToolsDir(),
		timeout:     5 * time.Minute,
		refreshPath: pathutil.RefreshFromSystem,
		persistPath: pathutil.Persist,
		httpClient:  http.DefaultClient,
		cache:       make(map[string]State),
	}
	for _, o := range opts {
		o(r)
	}
	r.strategies = r.defaultStrategies()
	return r
}

// SetStrategies replaces the install chain for tool.
func (r *Resolver) SetStrategies(tool string, s ...Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[tool] = s
}

func (r *Resolver) Strategies(tool string) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Strategy(nil), r.strategies[tool]...)
}

// Check reports whether tool is usable. A missing executable or failing
// probe means not installed; it is never an error.
func (r *Resolver) Check(ctx context.Context, tool string) State {
	r.mu.RLock()
	st, ok := r.cache[tool]
	r.mu.RUnlock()
	if ok {
		return st
	}

	v, _, _ := r.group.Do(tool, func() (any, error) {
		st := r.probe(ctx, tool)
		if ctx.Err() != nil {
			return st, nil
		}
		r.mu.Lock()
		r.cache[tool] = st
		r.mu.Unlock()
		return st, nil
	})
	return v.(State)
}

// Invalidate drops the cached state so the next Check probes again.
func (r *Resolver) Invalidate(tool string) {
	r.mu.Lock()
	delete(r.cache, tool)
	r.mu.Unlock()
}

// Snapshot returns every cached state.
func (r *Resolver) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.cache))
	for k, v := range r.cache {
		out[k] = v
	}
	return out
}

func (r *Resolver) probe(ctx context.Context, tool string) State {
	p, ok := probes[tool]
	if !ok {
		p = probe{commands: []string{tool}}
	}
	st := State{Tool: tool, CheckedAt: time.Now()}
	for _, name := range p.commands {
		if _, err := r.runner.LookPath(name); err != nil {
			continue
		}
		res, err := r.runner.Run(ctx, shell.Command{Name: name, Args: []string{"--version"}, Timeout: 15 * time.Second})
		if err != nil {
			st.Detail = err.Error()
			continue
		}
		line := shell.FirstLine(res.Output)
		version := versionRe.FindString(line)
		if version == "" {
			version = line
		}
		st.Version = version
		st.Command = name
		if p.minMajor > 0 && !atLeast(version, p.minMajor, p.minMinor) {
			st.Detail = fmt.Sprintf("%s is too old (need %d.%d+)", version, p.minMajor, p.minMinor)
			continue
		}
		st.Installed = true
		st.Detail = ""
		return st
	}
	if st.Detail == "" {
		st.Detail = "not found"
	}
	return st
}

func atLeast(version string, major, minor int) bool {
	segs := strings.SplitN(version, ".", 3)
	maj, err := strconv.Atoi(segs[0])
	if err != nil {
		return false
	}
	if maj != major {
		return maj > major
	}
	if len(segs) < 2 {
		return minor == 0
	}
	min, _ := strconv.Atoi(segs[1])
	return min >= minor
}

// Ensure returns true when tool is present or one of its strategies
// installed it. Each strategy runs at most once; the first one followed by
// a passing Check wins.
func (r *Resolver) Ensure(ctx context.Context, tool string) bool {
	if r.Check(ctx, tool).Installed {
		return true
	}
	for _, s := range r.Strategies(tool) {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Info("installing prerequisite", "tool", tool, "strategy", s.Name)
		err := s.Install(ctx)
		r.Invalidate(tool)
		if r.refreshPath != nil {
			r.refreshPath()
		}
		if err != nil {
			metrics.PrerequisiteInstalls.WithLabelValues(tool, s.Name, "error").Inc()
			r.logger.Warn("prerequisite strategy failed", "tool", tool, "strategy", s.Name, "error", err)
			continue
		}
		if st := r.Check(ctx, tool); st.Installed {
			metrics.PrerequisiteInstalls.WithLabelValues(tool, s.Name, "ok").Inc()
			r.logger.Info("prerequisite installed", "tool", tool, "strategy", s.Name, "version", st.Version, "status", "ok")
			return true
		}
		metrics.PrerequisiteInstalls.WithLabelValues(tool, s.Name, "unverified").Inc()
		r.logger.Warn("strategy finished but tool still missing", "tool", tool, "strategy", s.Name)
	}
	r.logger.Error("prerequisite unavailable", "tool", tool, "hint", r.ManualHint(tool))
	return false
}

// EnsureAll ensures every tool and returns the ones still missing.
func (r *Resolver) EnsureAll(ctx context.Context, tools []string) []string {
	var missing []string
	for _, t := range tools {
		if !r.Ensure(ctx, t) {
			missing = append(missing, t)
		}
	}
	return missing
}

// ManualHint is the instruction shown when automatic install failed.
func (r *Resolver) ManualHint(tool string) string {
	switch tool {
	case "node", "npm":
		return "Install Node.js 16 or newer from https://nodejs.org/ and restart mcpsetup"
	case "python":
		return "Install Python 3.8 or newer from https://www.python.org/downloads/"
	case "git":
		return "Install Git from https://git-scm.com/downloads"
	case "docker":
		return "Install Docker Desktop from https://www.docker.com/products/docker-desktop/ and start it"
	case "winget":
		return "Install App Installer from the Microsoft Store to get winget"
	case "uv":
		return "Install uv with: pip install uv (see https://docs.astral.sh/uv/)"
	}
	return fmt.Sprintf("Install %s manually and make sure it is on PATH", tool)
}
