// Package session builds the object every front end works through: config,
// logger, runners, catalog and the components that act on them. One is
// created per process and passed explicitly.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/config"
	"github.com/JuanVilla424/mcpsetup/internal/discovery"
	"github.com/JuanVilla424/mcpsetup/internal/docker"
	"github.com/JuanVilla424/mcpsetup/internal/health"
	"github.com/JuanVilla424/mcpsetup/internal/history"
	"github.com/JuanVilla424/mcpsetup/internal/install"
	"github.com/JuanVilla424/mcpsetup/internal/logs"
	"github.com/JuanVilla424/mcpsetup/internal/pathutil"
	"github.com/JuanVilla424/mcpsetup/internal/prereq"
	"github.com/JuanVilla424/mcpsetup/internal/shell"
	"github.com/JuanVilla424/mcpsetup/internal/syscheck"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
	"github.com/JuanVilla424/mcpsetup/internal/templates"
)

// Options overrides what New would otherwise build from the environment.
type Options struct {
	Version string
	// Stderr mirrors log lines to stderr (plain subcommands).
	Stderr     bool
	Runner     shell.Runner
	Docker     *docker.Client
	Targets    []targets.Target
	HTTPClient *http.Client
	Dialer     health.Dialer
	LookupEnv  func(string) (string, bool)
	// Sources replaces the discovery sources, mainly for tests.
	Sources []discovery.Source
}

type Session struct {
	Config    config.Config
	Version   string
	Logs      *logs.RingBuffer
	Logger    hclog.InterceptLogger
	Runner    shell.Runner
	Prereqs   *prereq.Resolver
	Docker    *docker.Client
	Discovery *discovery.Aggregator
	Installer *install.Orchestrator
	Writer    *targets.Writer
	Targets   []targets.Target
	History   *history.Store
	Templates *templates.Store
	Health    *health.Checker
	HTTP      *http.Client

	sources []discovery.Source

	mu         sync.RWMutex
	catalog    *catalog.Catalog
	discovered map[string]catalog.ServerDescriptor
}

// New wires a session from cfg. Docker is probed once; an unreachable
// daemon leaves a client whose calls fail with docker.ErrUnavailable.
func New(ctx context.Context, cfg config.Config, opts Options) (*Session, error) {
	rb := logs.NewRingBuffer(cfg.LogDir(), 500)
	logger := logs.NewLogger(rb, logs.LoggerOptions{Debug: cfg.Debug, Stderr: opts.Stderr})

	pathutil.AugmentPath()

	runner := opts.Runner
	if runner == nil {
		runner = shell.Exec{DefaultTimeout: cfg.InstallTimeout()}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.FetchTimeout()}
	}
	dc := opts.Docker
	if dc == nil {
		dc = docker.Connect(ctx, logger)
	}
	tgts := opts.Targets
	if tgts == nil {
		home, _ := os.UserHomeDir()
		tgts = targets.Known(home, runtime.GOOS, os.Getenv)
	}

	// Downloads are bounded by the install timeout, not the fetch timeout.
	downloads := &http.Client{Transport: httpClient.Transport}
	resolver := prereq.New(runner, logger,
		prereq.WithInstallTimeout(cfg.InstallTimeout()),
		prereq.WithHTTPClient(downloads))

	hist, err := history.Open(cfg.HistoryPath())
	if err != nil {
		rb.Close()
		return nil, fmt.Errorf("opening history: %w", err)
	}

	policy := targets.PolicyReset
	if cfg.OnParseError == config.ParseErrorAbort {
		policy = targets.PolicyAbort
	}

	s := &Session{
		Config:  cfg,
		Version: opts.Version,
		Logs:    rb,
		Logger:  logger,
		Runner:  runner,
		Prereqs: resolver,
		Docker:  dc,
		Discovery: discovery.New(logger,
			discovery.WithTimeout(cfg.FetchTimeout()),
			discovery.WithConcurrency(cfg.ConcurrentDiscovery, 4)),
		Installer: install.New(runner, dc, resolver, logger, install.Options{
			ServersDir:     cfg.ServersDir,
			WorkspaceDir:   cfg.WorkspaceDir,
			DataDir:        cfg.DataDir,
			DockerfilesDir: cfg.DockerfilesDir,
			InstallTimeout: cfg.InstallTimeout(),
			BuildTimeout:   cfg.BuildTimeout(),
			LookupEnv:      opts.LookupEnv,
			HTTPClient:     downloads,
		}),
		Writer:     targets.NewWriter(policy, logger),
		Targets:    tgts,
		History:    hist,
		Templates:  templates.NewStore(cfg.TemplatesPath()),
		Health:     health.NewChecker(opts.Dialer, 2*cfg.FetchTimeout()+time.Minute, opts.Version, logger),
		HTTP:       httpClient,
		sources:    opts.Sources,
		discovered: make(map[string]catalog.ServerDescriptor),
	}
	if s.sources == nil {
		// GitHub's unauthenticated search allows ten requests a minute.
		limiter := rate.NewLimiter(rate.Every(6*time.Second), 2)
		if cfg.GitHubToken != "" {
			limiter = rate.NewLimiter(rate.Every(2*time.Second), 5)
		}
		s.sources = discovery.DefaultSources(cfg.CatalogPath, cfg.GitHubToken, httpClient, limiter)
	}
	if _, err := s.ReloadCatalog(); err != nil {
		s.Logger.Warn("catalog unavailable, using built-in list", "path", cfg.CatalogPath, "error", err)
	}
	return s, nil
}

func (s *Session) Close() {
	s.History.Close()
	s.Docker.Close()
	s.Logs.Close()
}

// Catalog returns the local catalog last loaded.
func (s *Session) Catalog() *catalog.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// ReloadCatalog re-reads the catalog file, creating it from the built-in
// list on first use. On error the previous catalog stays in place.
func (s *Session) ReloadCatalog() (*catalog.Catalog, error) {
	var c *catalog.Catalog
	err := catalog.EnsureFile(s.Config.CatalogPath)
	if err == nil {
		c, err = catalog.Load(s.Config.CatalogPath)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.catalog == nil {
			s.catalog = catalog.Default()
		}
		return s.catalog, err
	}
	s.catalog = c
	return c, nil
}

// Lookup finds id in the catalog, then among servers found by the last
// discovery run.
func (s *Session) Lookup(id string) (catalog.ServerDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.catalog.Get(id); ok {
		return d, true
	}
	d, ok := s.discovered[id]
	return d, ok
}

// Resolve turns ids and an optional profile into descriptors, profile
// members first. Duplicates are dropped.
func (s *Session) Resolve(ids []string, profile string) ([]catalog.ServerDescriptor, error) {
	var out []catalog.ServerDescriptor
	seen := make(map[string]bool)
	if profile != "" {
		members, err := s.Catalog().Profile(profile)
		if err != nil {
			return nil, err
		}
		for _, d := range members {
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	var unknown []error
	for _, id := range ids {
		if seen[id] {
			continue
		}
		d, ok := s.Lookup(id)
		if !ok {
			unknown = append(unknown, fmt.Errorf("unknown server %q", id))
			continue
		}
		seen[id] = true
		out = append(out, d)
	}
	return out, errors.Join(unknown...)
}

// Discover aggregates the sources. Results not already in the catalog are
// remembered so they can be installed by id.
func (s *Session) Discover(ctx context.Context, mode discovery.Mode, onBatch discovery.BatchFunc) discovery.Result {
	res := s.Discovery.AggregateStream(ctx, s.sources, mode, onBatch)
	s.mu.Lock()
	for _, d := range res.Descriptors {
		if _, ok := s.catalog.Get(d.ID); !ok {
			s.discovered[d.ID] = d
		}
	}
	s.mu.Unlock()
	return res
}

// AddToCatalog appends descriptors to the catalog file and reloads it.
func (s *Session) AddToCatalog(ctx context.Context, descs []catalog.ServerDescriptor) ([]string, error) {
	added, err := catalog.AppendDiscovered(s.Config.CatalogPath, descs)
	for _, id := range added {
		s.record(ctx, history.Entry{Operation: history.OpCatalogWrite, Server: id, Outcome: "ok", Path: s.Config.CatalogPath})
	}
	if err != nil {
		return added, err
	}
	if len(added) > 0 {
		if _, err := s.ReloadCatalog(); err != nil {
			return added, err
		}
		s.Logger.Info("catalog updated", "added", len(added), "path", s.Config.CatalogPath)
	}
	return added, nil
}

// SelectTargets returns the targets to write. Requested ids are looked up
// directly; otherwise detected targets allowed by config are used.
func (s *Session) SelectTargets(requested []string) ([]targets.Target, error) {
	if len(requested) > 0 {
		var out []targets.Target
		var errs []error
		for _, id := range requested {
			t, ok := targets.Find(s.Targets, id)
			if !ok {
				errs = append(errs, fmt.Errorf("unknown target %q", id))
				continue
			}
			out = append(out, t)
		}
		return out, errors.Join(errs...)
	}
	var out []targets.Target
	for _, t := range targets.Detect(s.Targets) {
		if s.Config.TargetEnabled(t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

// SystemCheck runs the compatibility report.
func (s *Session) SystemCheck(ctx context.Context) syscheck.Report {
	c := &syscheck.Checker{
		Tools:   s.Prereqs,
		Docker:  s.Docker,
		Targets: s.Targets,
		Client:  s.HTTP,
		Logger:  s.Logger,
	}
	return c.Run(ctx)
}

func (s *Session) record(ctx context.Context, e history.Entry) {
	if _, err := s.History.Record(ctx, e); err != nil {
		s.Logger.Warn("history write failed", "operation", string(e.Operation), "server", e.Server, "error", err)
	}
}
