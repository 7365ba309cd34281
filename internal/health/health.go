// Package health checks that an installed server actually speaks MCP by
// launching it the way an IDE would and running initialize and tools/list.
package health

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/JuanVilla424/mcpsetup/internal/install"
)

// Session is the part of an MCP client Verify needs.
type Session interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	Close() error
}

var _ Session = (*client.Client)(nil)

// Dialer starts a server and returns a connected session.
type Dialer func(ctx context.Context, cmd install.RunCommand) (Session, error)

// StdioDialer launches cmd as a subprocess speaking MCP over stdio.
func StdioDialer(ctx context.Context, cmd install.RunCommand) (Session, error) {
	env := os.Environ()
	keys := make([]string, 0, len(cmd.Env))
	for k := range cmd.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cmd.Env[k])
	}
	c, err := client.NewStdioMCPClient(cmd.Command, env, cmd.Args...)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Command, err)
	}
	return c, nil
}

type Report struct {
	Server          string        `json:"server"`
	ServerName      string        `json:"server_name,omitempty"`
	ServerVersion   string        `json:"server_version,omitempty"`
	ProtocolVersion string        `json:"protocol_version,omitempty"`
	Tools           []string      `json:"tools,omitempty"`
	Latency         time.Duration `json:"latency"`
	Err             error         `json:"-"`
	Error           string        `json:"error,omitempty"`
	CheckedAt       time.Time     `json:"checked_at"`
}

func (r Report) Healthy() bool { return r.Err == nil }

type Checker struct {
	dial    Dialer
	timeout time.Duration
	logger  hclog.Logger
	version string
}

// NewChecker uses StdioDialer when dial is nil. timeout bounds each check,
// including a first-run npx or uvx download.
func NewChecker(dial Dialer, timeout time.Duration, version string, logger hclog.Logger) *Checker {
	if dial == nil {
		dial = StdioDialer
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Checker{dial: dial, timeout: timeout, logger: logger.Named("health"), version: version}
}

// Verify launches one server and reports what it said. It does not return
// an error; failures are in the report.
func (c *Checker) Verify(ctx context.Context, server string, cmd install.RunCommand) Report {
	r := Report{Server: server, CheckedAt: time.Now()}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.verify(ctx, cmd, &r)
	r.Latency = time.Since(start)
	if err != nil {
		r.Err = err
		r.Error = err.Error()
		c.logger.Warn("verify failed", "server", server, "command", cmd.Command, "error", err)
		return r
	}
	c.logger.Info("verified", "server", server, "name", r.ServerName, "tools", len(r.Tools), "latency", r.Latency)
	return r
}

func (c *Checker) verify(ctx context.Context, cmd install.RunCommand, r *Report) error {
	if cmd.Command == "" {
		return fmt.Errorf("no launch command recorded")
	}
	sess, err := c.dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	init, err := sess.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "mcpsetup", Version: c.version},
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	r.ServerName = init.ServerInfo.Name
	r.ServerVersion = init.ServerInfo.Version
	r.ProtocolVersion = init.ProtocolVersion

	if init.Capabilities.Tools == nil {
		return nil
	}
	tools, err := sess.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	for _, t := range tools.Tools {
		r.Tools = append(r.Tools, t.Name)
	}
	sort.Strings(r.Tools)
	return nil
}

// VerifyAll checks several servers with at most limit running at once.
// Reports come back in the order of ids.
func (c *Checker) VerifyAll(ctx context.Context, ids []string, cmds map[string]install.RunCommand, limit int) []Report {
	if limit <= 0 {
		limit = 2
	}
	reports := make([]Report, len(ids))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			rep := c.Verify(gctx, id, cmds[id])
			mu.Lock()
			reports[i] = rep
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return reports
}
