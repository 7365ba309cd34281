package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/docker"
	"github.com/JuanVilla424/mcpsetup/internal/download"
	"github.com/JuanVilla424/mcpsetup/internal/jsontree"
	"github.com/JuanVilla424/mcpsetup/internal/shell"
)

// ImageRef is the image a docker descriptor runs. Descriptors that only
// name a Dockerfile get a local tag.
func ImageRef(d catalog.ServerDescriptor) string {
	if d.Spec.Image != "" {
		return d.Spec.Image
	}
	return "mcp-" + d.ID + ":latest"
}

func (o *Orchestrator) dockerPath(ctx context.Context, r *run, d catalog.ServerDescriptor) (RunCommand, error) {
	ref := ImageRef(d)
	exists, err := o.runtime.ImageExists(ctx, ref)
	if err != nil {
		return RunCommand{}, fmt.Errorf("%w: inspecting %s: %w", ErrInstallationFailed, ref, err)
	}

	if !exists {
		if d.Spec.Dockerfile != "" {
			r.transition(StageBuild, "building %s from %s", ref, d.Spec.Dockerfile)
			if err := docker.Materialize(o.opts.DockerfilesDir); err != nil {
				return RunCommand{}, fmt.Errorf("%w: preparing build context: %w", ErrInstallationFailed, err)
			}
			bctx, cancel := context.WithTimeout(ctx, o.opts.BuildTimeout)
			err = o.runtime.Build(bctx, docker.BuildRequest{
				ContextDir: o.opts.DockerfilesDir,
				Dockerfile: d.Spec.Dockerfile,
				Tag:        ref,
			}, func(line string) { r.detail(StageBuild, line) })
			cancel()
		} else {
			r.transition(StagePull, "pulling %s", ref)
			pctx, cancel := context.WithTimeout(ctx, o.opts.BuildTimeout)
			err = o.runtime.Pull(pctx, ref, func(line string) { r.detail(StagePull, line) })
			cancel()
		}
		if err != nil {
			return RunCommand{}, fmt.Errorf("%w: %w", ErrInstallationFailed, err)
		}
	} else {
		r.transition(StageDocker, "image %s present", ref)
	}

	volumes, err := o.prepareVolumes(d.Spec.Volumes)
	if err != nil {
		return RunCommand{}, fmt.Errorf("%w: %w", ErrInstallationFailed, err)
	}
	env := o.resolveEnv(r, d)

	if d.Spec.RunMode == catalog.RunDaemon {
		r.transition(StageRun, "starting container %s", docker.ContainerName(d.ID))
		if _, err := o.runtime.Run(ctx, docker.RunSpec{
			Server:  d.ID,
			Image:   ref,
			Env:     env,
			Ports:   d.Spec.Ports,
			Volumes: volumes,
		}); err != nil {
			return RunCommand{}, fmt.Errorf("%w: %w", ErrInstallationFailed, err)
		}
		args := []string{"exec", "-i", docker.ContainerName(d.ID)}
		args = append(args, d.Spec.ContainerCommand...)
		args = append(args, d.Spec.Args...)
		return RunCommand{Command: "docker", Args: args}, nil
	}

	// A daemon container left from an earlier install would hold ports.
	if err := o.runtime.Remove(ctx, d.ID); err != nil {
		r.detail(StageRun, "could not remove old container: "+err.Error())
	}
	args := []string{"run", "-i", "--rm", "--init"}
	for _, k := range sortedKeys(env) {
		args = append(args, "-e", k)
	}
	for _, v := range volumes {
		args = append(args, "-v", v)
	}
	args = append(args, ref)
	args = append(args, o.expandArgs(d.Spec.Args)...)
	r.transition(StageRun, "configured %s to start per session", ref)
	return RunCommand{Command: "docker", Args: args, Env: env}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var varRe = regexp.MustCompile(`\$\{(\w+)(?::-([^}]*))?\}`)

// prepareVolumes expands ${VAR:-default} in host paths and creates the host
// directories.
func (o *Orchestrator) prepareVolumes(specs []string) ([]string, error) {
	out := make([]string, 0, len(specs))
	for _, v := range specs {
		host, rest := splitVolume(v)
		host = o.expandVars(host)
		if host == "" || rest == "" {
			return nil, fmt.Errorf("invalid volume %q", v)
		}
		abs, err := filepath.Abs(host)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("creating volume dir %s: %w", abs, err)
		}
		out = append(out, abs+":"+rest)
	}
	return out, nil
}

// expandVars replaces ${VAR} and ${VAR:-default}. The environment wins,
// then the configured workspace and data dirs, then the default.
func (o *Orchestrator) expandVars(s string) string {
	known := map[string]string{
		"MCP_WORKSPACE_PATH": o.opts.WorkspaceDir,
		"MCP_DATA_PATH":      o.opts.DataDir,
	}
	return varRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := varRe.FindStringSubmatch(m)
		if val, ok := o.opts.LookupEnv(sub[1]); ok && val != "" {
			return val
		}
		if val := known[sub[1]]; val != "" {
			return val
		}
		return sub[2]
	})
}

func (o *Orchestrator) expandArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = o.expandVars(a)
	}
	return out
}

// splitVolume splits host:container[:mode]. Container paths are absolute,
// so the separator is the first ":/" past a possible drive letter.
func splitVolume(v string) (string, string) {
	if len(v) < 3 {
		return "", ""
	}
	i := strings.Index(v[2:], ":/")
	if i < 0 {
		return "", ""
	}
	i += 2
	return v[:i], v[i+1:]
}

func (o *Orchestrator) directPath(ctx context.Context, r *run, d catalog.ServerDescriptor) (RunCommand, error) {
	var (
		cmd RunCommand
		err error
	)
	switch d.Kind {
	case catalog.KindNPM:
		cmd, err = o.installNPM(ctx, r, d)
	case catalog.KindPython:
		cmd, err = o.installPython(ctx, r, d)
	case catalog.KindBinary:
		cmd, err = o.installBinary(ctx, r, d)
	case catalog.KindURL:
		cmd, err = o.installURL(ctx, r, d)
	default:
		return RunCommand{}, fmt.Errorf("%w: unsupported kind %q", ErrInstallationFailed, d.Kind)
	}
	if err != nil {
		if errors.Is(err, ErrPrerequisiteMissing) {
			return RunCommand{}, err
		}
		return RunCommand{}, fmt.Errorf("%w: %w", ErrInstallationFailed, err)
	}
	cmd.Args = o.expandArgs(cmd.Args)
	cmd.Env = o.resolveEnv(r, d)
	return cmd, nil
}

func (o *Orchestrator) exec(ctx context.Context, r *run, dir, name string, args ...string) error {
	c := shell.Command{Name: name, Args: args, Dir: dir, Timeout: o.opts.InstallTimeout}
	r.detail(StageInstall, c.String())
	res, err := o.runner.Run(ctx, c)
	if err != nil {
		return err
	}
	if line := shell.FirstLine(res.Output); line != "" {
		r.detail(StageInstall, line)
	}
	return nil
}

func (o *Orchestrator) installNPM(ctx context.Context, r *run, d catalog.ServerDescriptor) (RunCommand, error) {
	r.transition(StageInstall, "npm install -g %s", d.Spec.Package)
	if err := o.exec(ctx, r, "", "npm", "install", "-g", d.Spec.Package); err != nil {
		return RunCommand{}, err
	}
	if d.Spec.Command != "" {
		return RunCommand{Command: d.Spec.Command, Args: d.Spec.Args}, nil
	}
	return RunCommand{Command: "npx", Args: append([]string{"-y", d.Spec.Package}, d.Spec.Args...)}, nil
}

func (o *Orchestrator) pythonCommand(ctx context.Context) string {
	if o.prereqs != nil {
		if st := o.prereqs.Check(ctx, "python"); st.Installed && st.Command != "" {
			return st.Command
		}
	}
	if o.goos == "windows" {
		return "python"
	}
	return "python3"
}

func (o *Orchestrator) installPython(ctx context.Context, r *run, d catalog.ServerDescriptor) (RunCommand, error) {
	if d.Spec.Package == "" {
		return o.installPythonRepo(ctx, r, d)
	}
	pkg := d.Spec.Package
	if o.prereqs != nil && o.prereqs.Check(ctx, "uv").Installed {
		r.transition(StageInstall, "uv tool install %s", pkg)
		if err := o.exec(ctx, r, "", "uv", "tool", "install", pkg); err != nil {
			return RunCommand{}, err
		}
		if d.Spec.Command != "" {
			return RunCommand{Command: d.Spec.Command, Args: d.Spec.Args}, nil
		}
		return RunCommand{Command: "uvx", Args: append([]string{pkg}, d.Spec.Args...)}, nil
	}

	py := o.pythonCommand(ctx)
	r.transition(StageInstall, "pip install %s", pkg)
	if err := o.exec(ctx, r, "", py, "-m", "pip", "install", "--user", "--upgrade", pkg); err != nil {
		return RunCommand{}, err
	}
	if d.Spec.Command != "" {
		return RunCommand{Command: d.Spec.Command, Args: d.Spec.Args}, nil
	}
	module := strings.ReplaceAll(pkg, "-", "_")
	return RunCommand{Command: py, Args: append([]string{"-m", module}, d.Spec.Args...)}, nil
}

// checkout clones repo into the server dir, or pulls when a clone exists.
func (o *Orchestrator) checkout(ctx context.Context, r *run, d catalog.ServerDescriptor, repo string) (string, error) {
	dir := filepath.Join(o.opts.ServersDir, d.ID)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		r.transition(StageInstall, "updating %s", dir)
		if err := o.exec(ctx, r, dir, "git", "pull", "--ff-only"); err == nil {
			return dir, nil
		}
		r.detail(StageInstall, "pull failed, cloning again")
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing %s: %w", dir, err)
	}
	if err := os.MkdirAll(o.opts.ServersDir, 0755); err != nil {
		return "", err
	}
	r.transition(StageInstall, "cloning %s", repo)
	if err := o.exec(ctx, r, "", "git", "clone", "--depth", "1", repo, dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (o *Orchestrator) installPythonRepo(ctx context.Context, r *run, d catalog.ServerDescriptor) (RunCommand, error) {
	dir, err := o.checkout(ctx, r, d, d.Spec.Repository)
	if err != nil {
		return RunCommand{}, err
	}
	venv := filepath.Join(dir, ".venv")
	if _, err := os.Stat(venv); err != nil {
		r.transition(StageInstall, "creating virtualenv")
		if err := o.exec(ctx, r, dir, o.pythonCommand(ctx), "-m", "venv", venv); err != nil {
			return RunCommand{}, err
		}
	}
	venvPython := filepath.Join(venv, "bin", "python")
	if o.goos == "windows" {
		venvPython = filepath.Join(venv, "Scripts", "python.exe")
	}

	switch {
	case exists(filepath.Join(dir, "requirements.txt")):
		r.transition(StageInstall, "installing requirements")
		err = o.exec(ctx, r, dir, venvPython, "-m", "pip", "install", "-r", "requirements.txt")
	case exists(filepath.Join(dir, "pyproject.toml")), exists(filepath.Join(dir, "setup.py")):
		r.transition(StageInstall, "installing project")
		err = o.exec(ctx, r, dir, venvPython, "-m", "pip", "install", "-e", ".")
	}
	if err != nil {
		return RunCommand{}, err
	}

	args := expandDir(d.Spec.Args, dir)
	if d.Spec.Command != "" {
		return RunCommand{Command: expandDir([]string{d.Spec.Command}, dir)[0], Args: args}, nil
	}
	if len(args) == 0 {
		args = []string{"-m", strings.ReplaceAll(d.ID, "-", "_")}
	}
	return RunCommand{Command: venvPython, Args: args}, nil
}

func (o *Orchestrator) installURL(ctx context.Context, r *run, d catalog.ServerDescriptor) (RunCommand, error) {
	repo := d.Spec.Repository
	if repo == "" {
		repo = d.Spec.URL
	}
	dir, err := o.checkout(ctx, r, d, repo)
	if err != nil {
		return RunCommand{}, err
	}

	pkgJSON := filepath.Join(dir, "package.json")
	if exists(pkgJSON) {
		if o.prereqs != nil && !o.prereqs.Ensure(ctx, "npm") {
			return RunCommand{}, fmt.Errorf("%w: npm (%s)", ErrPrerequisiteMissing, o.prereqs.ManualHint("npm"))
		}
		r.transition(StageInstall, "npm install")
		if err := o.exec(ctx, r, dir, "npm", "install"); err != nil {
			return RunCommand{}, err
		}
	} else if exists(filepath.Join(dir, "requirements.txt")) || exists(filepath.Join(dir, "pyproject.toml")) {
		return o.installPythonRepo(ctx, r, d)
	}

	args := expandDir(d.Spec.Args, dir)
	if d.Spec.Command != "" {
		return RunCommand{Command: expandDir([]string{d.Spec.Command}, dir)[0], Args: args}, nil
	}
	main := "index.js"
	if data, err := os.ReadFile(pkgJSON); err == nil {
		if doc, err := jsontree.Parse(data); err == nil {
			if m, ok := doc.Field("main"); ok && m.Str() != "" {
				main = m.Str()
			}
		}
	}
	return RunCommand{Command: "node", Args: append([]string{filepath.Join(dir, main)}, args...)}, nil
}

func (o *Orchestrator) installBinary(ctx context.Context, r *run, d catalog.ServerDescriptor) (RunCommand, error) {
	dir := filepath.Join(o.opts.ServersDir, d.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return RunCommand{}, err
	}
	name := path.Base(d.Spec.URL)
	if name == "" || name == "." || name == "/" {
		name = d.ID
	}
	dest := filepath.Join(dir, name)
	r.transition(StageInstall, "downloading %s", d.Spec.URL)
	dctx, cancel := context.WithTimeout(ctx, o.opts.InstallTimeout)
	err := download.File(dctx, o.opts.HTTPClient, d.Spec.URL, dest)
	cancel()
	if err != nil {
		return RunCommand{}, err
	}
	if err := os.Chmod(dest, 0755); err != nil && !errors.Is(err, os.ErrNotExist) {
		return RunCommand{}, err
	}
	command := dest
	if d.Spec.Command != "" {
		command = expandDir([]string{d.Spec.Command}, dir)[0]
	}
	return RunCommand{Command: command, Args: expandDir(d.Spec.Args, dir)}, nil
}

func expandDir(args []string, dir string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "{dir}", dir)
	}
	return out
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Uninstall removes what Install left behind for d and its fallback route.
// Every step runs; the errors are joined.
func (o *Orchestrator) Uninstall(ctx context.Context, d catalog.ServerDescriptor) error {
	routes := []catalog.ServerDescriptor{d}
	if fb, ok := d.FallbackDescriptor(); ok {
		routes = append(routes, fb)
	}
	var errs []error
	for _, rd := range routes {
		if err := o.uninstallRoute(ctx, rd); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rd.Kind, err))
		}
	}
	if dir := filepath.Join(o.opts.ServersDir, d.ID); exists(dir) {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		o.logger.Warn("uninstall incomplete", "server", d.ID, "error", err)
	} else {
		o.logger.Info("uninstalled", "server", d.ID, "status", "ok")
	}
	return err
}

func (o *Orchestrator) uninstallRoute(ctx context.Context, d catalog.ServerDescriptor) error {
	run := func(name string, args ...string) error {
		_, err := o.runner.Run(ctx, shell.Command{Name: name, Args: args, Timeout: o.opts.InstallTimeout})
		return err
	}
	switch d.Kind {
	case catalog.KindDocker:
		if o.runtime == nil || !o.runtime.Available(ctx) {
			return nil
		}
		return o.runtime.Remove(ctx, d.ID)
	case catalog.KindNPM:
		if _, err := o.runner.LookPath("npm"); err != nil {
			return nil
		}
		return run("npm", "uninstall", "-g", d.Spec.Package)
	case catalog.KindPython:
		if d.Spec.Package == "" {
			return nil
		}
		if _, err := o.runner.LookPath("uv"); err == nil {
			if err := run("uv", "tool", "uninstall", d.Spec.Package); err == nil {
				return nil
			}
		}
		return run(o.pythonCommand(ctx), "-m", "pip", "uninstall", "-y", d.Spec.Package)
	}
	return nil
}
