package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/health"
	"github.com/JuanVilla424/mcpsetup/internal/history"
	"github.com/JuanVilla424/mcpsetup/internal/install"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
	"github.com/JuanVilla424/mcpsetup/internal/templates"
)

// InstallReport is one server's install attempt plus the config writes
// that followed it.
type InstallReport struct {
	Attempt install.Attempt  `json:"attempt"`
	Configs []targets.Result `json:"configs,omitempty"`
	// Skipped lists targets the descriptor does not support.
	Skipped []string `json:"skipped,omitempty"`
}

// Install runs the orchestrator for d and, on success, writes the launch
// command into every target in tgts the server supports. The attempt and
// each write are journaled.
func (s *Session) Install(ctx context.Context, d catalog.ServerDescriptor, tgts []targets.Target, onProgress install.ProgressFunc) InstallReport {
	a := s.Installer.Install(ctx, d, onProgress)
	rep := InstallReport{Attempt: a}
	s.record(ctx, history.Entry{
		AttemptID: a.ID,
		Operation: history.OpInstall,
		Server:    d.ID,
		Kind:      string(a.Kind),
		Path:      string(a.Path),
		Outcome:   string(a.Outcome),
		Detail:    a.Detail,
		Duration:  a.Duration,
	})
	if !a.Succeeded() {
		return rep
	}

	if err := s.History.SaveServer(ctx, history.Installed{
		ID:      d.ID,
		Kind:    string(a.Kind),
		Path:    string(a.Path),
		Command: a.Command.Command,
		Args:    a.Command.Args,
		Env:     a.Command.Env,
	}); err != nil {
		s.Logger.Warn("could not record installed server", "server", d.ID, "error", err)
	}

	entry := targets.Entry{Command: a.Command.Command, Args: a.Command.Args, Env: a.Command.Env, Enabled: true}
	for _, t := range tgts {
		if !d.SupportsTarget(t.ID) {
			rep.Skipped = append(rep.Skipped, t.ID)
			continue
		}
		for _, res := range s.Writer.ApplyAll(t, d.ID, entry) {
			rep.Configs = append(rep.Configs, res)
			s.recordWrite(ctx, history.OpConfigure, d.ID, a.ID, res)
		}
	}
	return rep
}

// InstallMany installs descriptors one after another. It stops early only
// when ctx is cancelled.
func (s *Session) InstallMany(ctx context.Context, descs []catalog.ServerDescriptor, tgts []targets.Target, onProgress install.ProgressFunc) []InstallReport {
	out := make([]InstallReport, 0, len(descs))
	for _, d := range descs {
		if ctx.Err() != nil {
			break
		}
		out = append(out, s.Install(ctx, d, tgts, onProgress))
	}
	return out
}

// Configure writes an already installed server into tgts without
// reinstalling it.
func (s *Session) Configure(ctx context.Context, id string, tgts []targets.Target) ([]targets.Result, error) {
	srv, err := s.History.Server(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := targets.Entry{Command: srv.Command, Args: srv.Args, Env: srv.Env, Enabled: true}
	var out []targets.Result
	for _, t := range tgts {
		for _, res := range s.Writer.ApplyAll(t, id, entry) {
			out = append(out, res)
			s.recordWrite(ctx, history.OpConfigure, id, "", res)
		}
	}
	return out, nil
}

type UninstallReport struct {
	Server  string           `json:"server"`
	Removed []targets.Result `json:"removed,omitempty"`
	Err     error            `json:"-"`
	Error   string           `json:"error,omitempty"`
}

// Uninstall removes the server's artifacts and its entry from every known
// target and extension. Every step runs; errors are joined.
func (s *Session) Uninstall(ctx context.Context, id string) UninstallReport {
	start := time.Now()
	rep := UninstallReport{Server: id}
	var errs []error

	if d, ok := s.Lookup(id); ok {
		if err := s.Installer.Uninstall(ctx, d); err != nil {
			errs = append(errs, err)
		}
	} else if s.Docker.Available(ctx) {
		// Not in the catalog any more; a managed container may still exist.
		if _, err := s.Docker.Inspect(ctx, id); err == nil {
			if err := s.Docker.Remove(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, t := range s.Targets {
		for _, sub := range t.All() {
			removed, err := s.Writer.RemoveServer(sub, id)
			if err != nil {
				errs = append(errs, err)
			}
			if removed || err != nil {
				res := targets.Result{Target: sub.ID, Path: sub.ConfigFile, Err: err}
				rep.Removed = append(rep.Removed, res)
				s.recordWrite(ctx, history.OpUnconfigure, id, "", res)
			}
		}
	}
	if _, err := s.History.DeleteServer(ctx, id); err != nil {
		errs = append(errs, err)
	}

	rep.Err = errors.Join(errs...)
	outcome := "ok"
	if rep.Err != nil {
		rep.Error = rep.Err.Error()
		outcome = "failure"
	}
	s.record(ctx, history.Entry{Operation: history.OpUninstall, Server: id, Outcome: outcome, Detail: rep.Error, Duration: time.Since(start)})
	return rep
}

func (s *Session) recordWrite(ctx context.Context, op history.Operation, server, attempt string, res targets.Result) {
	outcome, detail := "ok", res.Warning
	if res.Err != nil {
		outcome, detail = "failure", res.Err.Error()
	}
	s.record(ctx, history.Entry{AttemptID: attempt, Operation: op, Server: server, Target: res.Target, Outcome: outcome, Detail: detail})
}

// ConfiguredServer is one server entry found in a target file.
type ConfiguredServer struct {
	Target string `json:"target"`
	targets.Server
}

// Configured lists the server entries in every detected target. Targets
// whose files cannot be read are reported in the error.
func (s *Session) Configured() ([]ConfiguredServer, error) {
	var out []ConfiguredServer
	var errs []error
	for _, t := range targets.Detect(s.Targets) {
		for _, sub := range t.All() {
			servers, err := s.Writer.ListServers(sub)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sub.ID, err))
				continue
			}
			for _, srv := range servers {
				out = append(out, ConfiguredServer{Target: sub.ID, Server: srv})
			}
		}
	}
	return out, errors.Join(errs...)
}

// Verify launches an installed server and checks it answers MCP.
func (s *Session) Verify(ctx context.Context, id string) health.Report {
	srv, err := s.History.Server(ctx, id)
	if err != nil {
		return health.Report{Server: id, Err: err, Error: err.Error(), CheckedAt: time.Now()}
	}
	return s.Health.Verify(ctx, id, install.RunCommand{Command: srv.Command, Args: srv.Args, Env: srv.Env})
}

// VerifyAll checks every installed server.
func (s *Session) VerifyAll(ctx context.Context) ([]health.Report, error) {
	all, err := s.History.Servers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	cmds := make(map[string]install.RunCommand, len(all))
	for _, srv := range all {
		ids = append(ids, srv.ID)
		cmds[srv.ID] = install.RunCommand{Command: srv.Command, Args: srv.Args, Env: srv.Env}
	}
	return s.Health.VerifyAll(ctx, ids, cmds, 2), nil
}

// CreateFromTemplate fills the template named ref and appends the
// resulting descriptor to the catalog.
func (s *Session) CreateFromTemplate(ctx context.Context, ref string, f *templates.Filler) (catalog.ServerDescriptor, error) {
	tmpl, err := s.Templates.Get(ref)
	if err != nil {
		return catalog.ServerDescriptor{}, err
	}
	return s.CreateFromContent(ctx, []byte(tmpl.Content), f)
}

// CreateFromContent is CreateFromTemplate for template text read elsewhere.
func (s *Session) CreateFromContent(ctx context.Context, content []byte, f *templates.Filler) (catalog.ServerDescriptor, error) {
	d, err := templates.Render(content, f)
	if err != nil {
		return catalog.ServerDescriptor{}, err
	}
	if _, exists := s.Catalog().Get(d.ID); exists {
		return d, fmt.Errorf("server %q already exists in the catalog", d.ID)
	}
	if _, err := s.AddToCatalog(ctx, []catalog.ServerDescriptor{d}); err != nil {
		return d, err
	}
	return d, nil
}
