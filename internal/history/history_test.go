package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Record(ctx, Entry{Operation: OpInstall, Server: "git", Kind: "docker", Path: "fallback", Outcome: "fallback-success", Duration: 1500 * time.Millisecond, At: base})
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{Operation: OpConfigure, Server: "git", Target: "cursor", Outcome: "ok", At: base.Add(time.Minute)})
	require.NoError(t, err)
	id, err := s.Record(ctx, Entry{Operation: OpInstall, Server: "memory", Outcome: "failure", Detail: "build failed", At: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "memory", recent[0].Server)
	assert.Equal(t, "build failed", recent[0].Detail)
	assert.Equal(t, OpConfigure, recent[1].Operation)
	assert.Equal(t, "cursor", recent[1].Target)

	git, err := s.ForServer(ctx, "git", 10)
	require.NoError(t, err)
	require.Len(t, git, 2)
	assert.Equal(t, 1500*time.Millisecond, git[1].Duration)
	assert.True(t, git[1].At.Equal(base))
}

func TestRecordDefaultsTime(t *testing.T) {
	s := openStore(t)
	before := time.Now().Add(-time.Second)
	_, err := s.Record(context.Background(), Entry{Operation: OpUninstall, Server: "x", Outcome: "ok"})
	require.NoError(t, err)
	got, err := s.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].At.After(before))
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-60 * 24 * time.Hour)
	_, err := s.Record(ctx, Entry{Operation: OpInstall, Server: "old", Outcome: "ok", At: old})
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{Operation: OpInstall, Server: "new", Outcome: "ok"})
	require.NoError(t, err)

	n, err := s.Prune(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	all, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Server)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), Entry{Operation: OpInstall, Server: "a", Outcome: "ok"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestInstalledServers(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Server(ctx, "git")
	assert.ErrorIs(t, err, ErrNotInstalled)

	require.NoError(t, s.SaveServer(ctx, Installed{ID: "git", Kind: "python", Path: "primary", Command: "uvx", Args: []string{"mcp-server-git"}}))
	require.NoError(t, s.SaveServer(ctx, Installed{ID: "fetch", Kind: "docker", Command: "docker", Args: []string{"run", "-i", "--rm", "mcp/fetch"}, Env: map[string]string{"A": "b"}}))
	require.NoError(t, s.SaveServer(ctx, Installed{ID: "git", Kind: "npm", Path: "fallback", Command: "npx", Args: []string{"-y", "git-mcp"}}))

	git, err := s.Server(ctx, "git")
	require.NoError(t, err)
	assert.Equal(t, "npx", git.Command)
	assert.Equal(t, "fallback", git.Path)
	assert.Equal(t, []string{"-y", "git-mcp"}, git.Args)

	all, err := s.Servers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fetch", all[0].ID)
	assert.Equal(t, map[string]string{"A": "b"}, all[0].Env)

	ok, err := s.DeleteServer(ctx, "fetch")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteServer(ctx, "fetch")
	require.NoError(t, err)
	assert.False(t, ok)
}
