package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanVilla424/mcpsetup/internal/install"
)

type fakeSession struct {
	init    *mcp.InitializeResult
	initErr error
	tools   []string
	closed  atomic.Bool
	block   bool
}

func (f *fakeSession) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.initErr != nil {
		return nil, f.initErr
	}
	return f.init, nil
}

func (f *fakeSession) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	res := &mcp.ListToolsResult{}
	for _, n := range f.tools {
		res.Tools = append(res.Tools, mcp.Tool{Name: n})
	}
	return res, nil
}

func (f *fakeSession) Close() error {
	f.closed.Store(true)
	return nil
}

func withTools(name string) *mcp.InitializeResult {
	r := &mcp.InitializeResult{ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION}
	r.ServerInfo = mcp.Implementation{Name: name, Version: "1.2.3"}
	r.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged,omitempty"`
	}{}
	return r
}

func dialTo(s *fakeSession) Dialer {
	return func(ctx context.Context, cmd install.RunCommand) (Session, error) { return s, nil }
}

func TestVerifyReportsServerAndTools(t *testing.T) {
	s := &fakeSession{init: withTools("git-server"), tools: []string{"git_status", "git_diff"}}
	c := NewChecker(dialTo(s), time.Second, "test", nil)

	r := c.Verify(context.Background(), "git", install.RunCommand{Command: "uvx", Args: []string{"mcp-server-git"}})
	require.True(t, r.Healthy(), r.Error)
	assert.Equal(t, "git-server", r.ServerName)
	assert.Equal(t, "1.2.3", r.ServerVersion)
	assert.Equal(t, []string{"git_diff", "git_status"}, r.Tools)
	assert.True(t, s.closed.Load())
}

func TestVerifySkipsToolsWithoutCapability(t *testing.T) {
	init := &mcp.InitializeResult{ServerInfo: mcp.Implementation{Name: "bare"}}
	s := &fakeSession{init: init, tools: []string{"ignored"}}
	r := NewChecker(dialTo(s), time.Second, "test", nil).Verify(context.Background(), "bare", install.RunCommand{Command: "x"})
	require.True(t, r.Healthy())
	assert.Empty(t, r.Tools)
}

func TestVerifyFailures(t *testing.T) {
	c := NewChecker(dialTo(&fakeSession{initErr: errors.New("boom")}), time.Second, "test", nil)
	r := c.Verify(context.Background(), "x", install.RunCommand{Command: "x"})
	assert.False(t, r.Healthy())
	assert.Contains(t, r.Error, "initialize")

	r = c.Verify(context.Background(), "x", install.RunCommand{})
	assert.Contains(t, r.Error, "no launch command")

	dialErr := NewChecker(func(context.Context, install.RunCommand) (Session, error) {
		return nil, errors.New("exec: not found")
	}, time.Second, "test", nil)
	r = dialErr.Verify(context.Background(), "x", install.RunCommand{Command: "x"})
	assert.Contains(t, r.Error, "not found")
}

func TestVerifyTimesOut(t *testing.T) {
	c := NewChecker(dialTo(&fakeSession{block: true}), 20*time.Millisecond, "test", nil)
	r := c.Verify(context.Background(), "slow", install.RunCommand{Command: "x"})
	require.False(t, r.Healthy())
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
}

func TestVerifyAllKeepsOrder(t *testing.T) {
	c := NewChecker(func(ctx context.Context, cmd install.RunCommand) (Session, error) {
		return &fakeSession{init: withTools(cmd.Command)}, nil
	}, time.Second, "test", nil)
	ids := []string{"a", "b", "c", "d"}
	cmds := map[string]install.RunCommand{
		"a": {Command: "srv-a"}, "b": {Command: "srv-b"}, "c": {Command: "srv-c"}, "d": {Command: "srv-d"},
	}
	reports := c.VerifyAll(context.Background(), ids, cmds, 2)
	require.Len(t, reports, 4)
	for i, id := range ids {
		assert.Equal(t, id, reports[i].Server)
		assert.Equal(t, "srv-"+id, reports[i].ServerName)
	}
}
