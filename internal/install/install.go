// Package install drives one server from descriptor to runnable command:
// Docker first when the runtime is reachable, otherwise the descriptor's
// own kind, with at most one hop to its fallback route.
package install

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/docker"
	"github.com/JuanVilla424/mcpsetup/internal/metrics"
	"github.com/JuanVilla424/mcpsetup/internal/prereq"
	"github.com/JuanVilla424/mcpsetup/internal/shell"
)

var (
	// ErrPrerequisiteMissing means a required tool is absent and could not
	// be installed automatically.
	ErrPrerequisiteMissing = errors.New("prerequisite missing")
	// ErrInstallationFailed means the kind installer or container step failed.
	ErrInstallationFailed = errors.New("installation failed")
)

type Path string

const (
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
)

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeFailure         Outcome = "failure"
	OutcomeFallbackSuccess Outcome = "fallback-success"
	OutcomePrereqRetried   Outcome = "prerequisite-installed-then-retried"
)

type Stage string

const (
	StageSelect        Stage = "select"
	StageDocker        Stage = "docker"
	StageBuild         Stage = "build"
	StagePull          Stage = "pull"
	StageRun           Stage = "run"
	StagePrerequisites Stage = "prerequisites"
	StageInstall       Stage = "install"
	StageFallback      Stage = "fallback"
	StageDone          Stage = "done"
)

type Progress struct {
	Server  string    `json:"server"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ProgressFunc is called from a separate goroutine; it may be slow without
// holding up the install.
type ProgressFunc func(Progress)

// RunCommand is how an IDE launches the installed server.
type RunCommand struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// Attempt records one install request.
type Attempt struct {
	ID               string                   `json:"id"`
	Descriptor       catalog.ServerDescriptor `json:"descriptor"`
	Path             Path                     `json:"path"`
	Kind             catalog.Kind             `json:"kind"`
	Outcome          Outcome                  `json:"outcome"`
	Err              error                    `json:"-"`
	Detail           string                   `json:"detail,omitempty"`
	Stages           []Progress               `json:"stages"`
	Command          RunCommand               `json:"command"`
	InstalledPrereqs []string                 `json:"installed_prereqs,omitempty"`
	Warnings         []string                 `json:"warnings,omitempty"`
	StartedAt        time.Time                `json:"started_at"`
	Duration         time.Duration            `json:"duration"`
}

func (a Attempt) Succeeded() bool {
	return a.Outcome != OutcomeFailure && a.Outcome != ""
}

// ContainerRuntime is the part of the Docker client the orchestrator uses.
type ContainerRuntime interface {
	Available(ctx context.Context) bool
	ImageExists(ctx context.Context, ref string) (bool, error)
	Build(ctx context.Context, req docker.BuildRequest, progress docker.ProgressFunc) error
	Pull(ctx context.Context, ref string, progress docker.ProgressFunc) error
	Run(ctx context.Context, spec docker.RunSpec) (string, error)
	Remove(ctx context.Context, server string) error
}

type Prerequisites interface {
	Check(ctx context.Context, tool string) prereq.State
	Ensure(ctx context.Context, tool string) bool
	ManualHint(tool string) string
}

type Options struct {
	ServersDir     string
	WorkspaceDir   string
	DataDir        string
	DockerfilesDir string
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
	// LookupEnv resolves required environment variables. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// HTTPClient fetches binary releases. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

type Orchestrator struct {
	runner  shell.Runner
	runtime ContainerRuntime
	prereqs Prerequisites
	logger  hclog.Logger
	opts    Options
	goos    string
}

func New(runner shell.Runner, rt ContainerRuntime, prereqs Prerequisites, logger hclog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.InstallTimeout <= 0 {
		opts.InstallTimeout = 5 * time.Minute
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = 20 * time.Minute
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Orchestrator{
		runner:  runner,
		runtime: rt,
		prereqs: prereqs,
		logger:  logger.Named("install"),
		opts:    opts,
		goos:    runtime.GOOS,
	}
}

// run carries the per-request state through the state machine.
type run struct {
	o         *Orchestrator
	attempt   *Attempt
	sink      *sink
	installed []string
}

// transition records a stage change and forwards it.
func (r *run) transition(stage Stage, format string, args ...any) {
	p := Progress{Server: r.attempt.Descriptor.ID, Stage: stage, Message: fmt.Sprintf(format, args...), Time: time.Now()}
	r.attempt.Stages = append(r.attempt.Stages, p)
	r.sink.send(p)
}

// detail forwards a progress line without recording it.
func (r *run) detail(stage Stage, msg string) {
	r.sink.send(Progress{Server: r.attempt.Descriptor.ID, Stage: stage, Message: msg, Time: time.Now()})
}

// Install runs the state machine for d. It never panics or returns an
// error; the outcome and reason are in the Attempt.
func (o *Orchestrator) Install(ctx context.Context, d catalog.ServerDescriptor, onProgress ProgressFunc) Attempt {
	a := Attempt{
		ID:         uuid.NewString(),
		Descriptor: d,
		Path:       PathPrimary,
		Kind:       d.Kind,
		StartedAt:  time.Now(),
	}
	r := &run{o: o, attempt: &a, sink: newSink(onProgress, 64)}
	defer r.sink.close(500 * time.Millisecond)

	o.logger.Info("install started", "server", d.ID, "kind", string(d.Kind))

	if err := d.Validate(); err != nil {
		o.finish(r, OutcomeFailure, fmt.Errorf("%w: %v", ErrInstallationFailed, err))
		return a
	}

	fb, hasFallback := d.FallbackDescriptor()
	cmd, err := o.attempt(ctx, r, d, !hasFallback)
	if err == nil {
		a.Command = cmd
		outcome := OutcomeSuccess
		if len(r.installed) > 0 {
			outcome = OutcomePrereqRetried
		}
		o.finish(r, outcome, nil)
		return a
	}

	if !hasFallback || ctx.Err() != nil {
		o.finish(r, OutcomeFailure, err)
		return a
	}

	r.transition(StageFallback, "%s route failed (%v), trying %s", d.Kind, err, fb.Kind)
	o.logger.Warn("primary route failed", "server", d.ID, "kind", string(d.Kind), "fallback", string(fb.Kind), "error", err)
	a.Path = PathFallback
	a.Kind = fb.Kind
	cmd, ferr := o.attempt(ctx, r, fb, true)
	if ferr != nil {
		o.finish(r, OutcomeFailure, fmt.Errorf("%w; fallback %s: %w", err, fb.Kind, ferr))
		return a
	}
	a.Command = cmd
	o.finish(r, OutcomeFallbackSuccess, nil)
	return a
}

func (o *Orchestrator) finish(r *run, outcome Outcome, err error) {
	a := r.attempt
	a.Outcome = outcome
	a.Err = err
	a.InstalledPrereqs = r.installed
	a.Duration = time.Since(a.StartedAt)
	if err != nil {
		a.Detail = err.Error()
		r.transition(StageDone, "failed: %v", err)
		o.logger.Error("install failed", "server", a.Descriptor.ID, "error", err)
	} else {
		r.transition(StageDone, "%s via %s (%s)", outcome, a.Kind, a.Path)
		o.logger.Info("install finished", "server", a.Descriptor.ID, "outcome", string(outcome), "path", string(a.Path), "status", "ok")
	}
	metrics.InstallAttempts.WithLabelValues(string(a.Descriptor.Kind), string(a.Path), string(outcome)).Inc()
	metrics.InstallDuration.WithLabelValues(string(a.Descriptor.Kind)).Observe(a.Duration.Seconds())
}

// attempt is one route: SelectStrategy followed by DockerPath or
// DirectPath. It never recurses into a fallback. ensureDocker allows the
// docker prerequisite to be installed when the runtime is unreachable;
// callers with a fallback skip that and hop instead.
func (o *Orchestrator) attempt(ctx context.Context, r *run, d catalog.ServerDescriptor, ensureDocker bool) (RunCommand, error) {
	if d.Kind == catalog.KindDocker {
		r.transition(StageSelect, "checking Docker runtime")
		if o.runtime != nil && o.runtime.Available(ctx) {
			return o.dockerPath(ctx, r, d)
		}
		if !ensureDocker {
			return RunCommand{}, fmt.Errorf("%w: %w", ErrInstallationFailed, docker.ErrUnavailable)
		}
		if err := o.ensurePrerequisites(ctx, r, d); err != nil {
			return RunCommand{}, err
		}
		if o.runtime == nil || !o.runtime.Available(ctx) {
			return RunCommand{}, fmt.Errorf("%w: docker is installed but the daemon is not running", ErrPrerequisiteMissing)
		}
		return o.dockerPath(ctx, r, d)
	}

	r.transition(StageSelect, "installing with %s", d.Kind)
	if err := o.ensurePrerequisites(ctx, r, d); err != nil {
		return RunCommand{}, err
	}
	return o.directPath(ctx, r, d)
}

func (o *Orchestrator) ensurePrerequisites(ctx context.Context, r *run, d catalog.ServerDescriptor) error {
	if len(d.Prerequisites) == 0 || o.prereqs == nil {
		return nil
	}
	r.transition(StagePrerequisites, "checking %v", d.Prerequisites)
	for _, tool := range d.Prerequisites {
		if o.prereqs.Check(ctx, tool).Installed {
			continue
		}
		r.transition(StagePrerequisites, "%s missing, installing", tool)
		if !o.prereqs.Ensure(ctx, tool) {
			return fmt.Errorf("%w: %s (%s)", ErrPrerequisiteMissing, tool, o.prereqs.ManualHint(tool))
		}
		r.installed = append(r.installed, tool)
		r.transition(StagePrerequisites, "%s installed", tool)
	}
	return nil
}

// resolveEnv merges the install env with required variables found in the
// environment. Missing required variables become warnings.
func (o *Orchestrator) resolveEnv(r *run, d catalog.ServerDescriptor) map[string]string {
	env := make(map[string]string, len(d.Spec.Env)+len(d.Spec.RequiredEnv))
	for k, v := range d.Spec.Env {
		env[k] = v
	}
	for _, k := range d.Spec.RequiredEnv {
		if env[k] != "" {
			continue
		}
		if v, ok := o.opts.LookupEnv(k); ok && v != "" {
			env[k] = v
		}
	}
	for _, k := range d.MissingEnv(o.opts.LookupEnv) {
		w := fmt.Sprintf("required environment variable %s is not set", k)
		r.attempt.Warnings = append(r.attempt.Warnings, w)
		r.transition(StageInstall, "%s", w)
	}
	if len(env) == 0 {
		return nil
	}
	return env
}
