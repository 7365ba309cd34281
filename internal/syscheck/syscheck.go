// Package syscheck reports whether this machine can install and run MCP
// servers: platform, connectivity, tools, Docker and detected IDEs.
package syscheck

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/JuanVilla424/mcpsetup/internal/prereq"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
)

type Status string

const (
	StatusPassed  Status = "passed"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Check is one line of the report.
type Check struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Critical bool   `json:"critical"`
	Version  string `json:"version,omitempty"`
	Detail   string `json:"detail"`
}

type Report struct {
	Platform string           `json:"platform"`
	Checks   []Check          `json:"checks"`
	IDEs     []targets.Target `json:"ides"`
	Status   Status           `json:"status"`
	Took     time.Duration    `json:"took"`
}

// Failed returns the checks that did not pass.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

type ToolChecker interface {
	Check(ctx context.Context, tool string) prereq.State
	ManualHint(tool string) string
}

type DockerProbe interface {
	Available(ctx context.Context) bool
}

// DefaultProbeURLs are tried in order until one answers.
var DefaultProbeURLs = []string{
	"https://registry.npmjs.org",
	"https://api.github.com",
	"https://registry.modelcontextprotocol.io",
}

var tools = []struct {
	name     string
	critical bool
}{
	{"node", true},
	{"npm", false},
	{"python", false},
	{"uv", false},
	{"git", false},
	{"docker", false},
}

type Checker struct {
	Tools     ToolChecker
	Docker    DockerProbe
	Targets   []targets.Target
	Client    *http.Client
	ProbeURLs []string
	GOOS      string
	GOARCH    string
	Logger    hclog.Logger
}

// Run performs every check concurrently. It never fails; problems become
// failed checks in the report.
func (c *Checker) Run(ctx context.Context) Report {
	start := time.Now()
	logger := c.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("syscheck")
	goos, goarch := c.GOOS, c.GOARCH
	if goos == "" {
		goos, goarch = runtime.GOOS, runtime.GOARCH
	}

	checks := make([]Check, 3+len(tools))
	checks[0] = platformCheck(goos, goarch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checks[1] = c.internet(gctx)
		return nil
	})
	g.Go(func() error {
		checks[2] = c.docker(gctx)
		return nil
	})
	for i, t := range tools {
		g.Go(func() error {
			checks[3+i] = c.tool(gctx, t.name, t.critical)
			return nil
		})
	}
	g.Wait()

	rep := Report{
		Platform: goos + "/" + goarch,
		Checks:   checks,
		IDEs:     targets.Detect(c.Targets),
	}
	rep.Checks = append(rep.Checks, ideCheck(rep.IDEs))
	rep.Status = summarize(rep.Checks)
	rep.Took = time.Since(start)

	for _, ch := range rep.Checks {
		if !ch.OK {
			logger.Warn("check failed", "check", ch.Name, "critical", ch.Critical, "detail", ch.Detail)
		}
	}
	logger.Info("system check finished", "status", rep.Status, "took", rep.Took)
	return rep
}

func summarize(checks []Check) Status {
	status := StatusPassed
	for _, c := range checks {
		if c.OK {
			continue
		}
		if c.Critical {
			return StatusFailed
		}
		status = StatusPartial
	}
	return status
}

func platformCheck(goos, goarch string) Check {
	c := Check{Name: "platform", Critical: true, Detail: goos + "/" + goarch}
	switch goos {
	case "linux", "darwin", "windows":
		c.OK = true
	default:
		c.Detail = "unsupported operating system " + goos
	}
	return c
}

func (c *Checker) internet(ctx context.Context) Check {
	ch := Check{Name: "internet", Critical: true}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	urls := c.ProbeURLs
	if len(urls) == 0 {
		urls = DefaultProbeURLs
	}
	var errs []string
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		resp.Body.Close()
		// Any HTTP answer proves the network path works.
		if resp.StatusCode < 500 {
			ch.OK = true
			ch.Detail = fmt.Sprintf("reached %s (HTTP %d)", u, resp.StatusCode)
			return ch
		}
		errs = append(errs, fmt.Sprintf("%s: HTTP %d", u, resp.StatusCode))
	}
	ch.Detail = "no registry reachable: " + strings.Join(errs, "; ")
	return ch
}

func (c *Checker) docker(ctx context.Context) Check {
	ch := Check{Name: "docker daemon"}
	if c.Docker != nil && c.Docker.Available(ctx) {
		ch.OK = true
		ch.Detail = "running"
		return ch
	}
	ch.Detail = "not reachable; servers will use their native install route"
	return ch
}

func (c *Checker) tool(ctx context.Context, name string, critical bool) Check {
	ch := Check{Name: name, Critical: critical}
	if c.Tools == nil {
		ch.Detail = "not checked"
		return ch
	}
	st := c.Tools.Check(ctx, name)
	ch.OK = st.Installed
	ch.Version = st.Version
	switch {
	case st.Installed:
		ch.Detail = st.Command
	case st.Detail != "":
		ch.Detail = st.Detail
	default:
		ch.Detail = c.Tools.ManualHint(name)
	}
	return ch
}

func ideCheck(found []targets.Target) Check {
	ch := Check{Name: "ides"}
	if len(found) == 0 {
		ch.Detail = "no supported IDE detected"
		return ch
	}
	ch.OK = true
	ch.Detail = strings.Join(targets.IDs(found), ", ")
	return ch
}
