package dashboard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/discovery"
	"github.com/JuanVilla424/mcpsetup/internal/engine"
	"github.com/JuanVilla424/mcpsetup/internal/install"
	"github.com/JuanVilla424/mcpsetup/internal/session"
)

func descs(n int, prefix string) []catalog.ServerDescriptor {
	out := make([]catalog.ServerDescriptor, n)
	for i := range out {
		out[i] = catalog.ServerDescriptor{ID: fmt.Sprintf("%s-%03d", prefix, i), Name: fmt.Sprintf("Server %d", i), Kind: catalog.KindNPM}
	}
	return out
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func newTestModel(t *testing.T) Model {
	m := NewModel(nil)
	t.Cleanup(m.shutdown)
	return m
}

func TestLargeListAppendsInChunks(t *testing.T) {
	m := newTestModel(t)
	m, cmd := update(t, m, catalogMsg{servers: descs(60, "srv")})
	require.NotNil(t, cmd)
	assert.Empty(t, m.servers, "nothing is appended in the triggering update")

	var sizes []int
	for cmd != nil {
		msg := cmd()
		require.IsType(t, chunkMsg{}, msg)
		m, cmd = update(t, m, msg)
		sizes = append(sizes, len(m.servers))
	}
	assert.Equal(t, []int{25, 50, 60}, sizes)
	assert.False(t, m.appending)
	assert.Equal(t, "srv-059", m.servers[59].ID)
}

func TestInitLoadsCatalog(t *testing.T) {
	m := newTestModel(t)
	cmd := m.Init()
	require.NotNil(t, cmd)
	assert.False(t, m.mgr.IsRunning(jobCheck), "no session, no system check")
}

func TestLocalRowSurvivesLaterBatch(t *testing.T) {
	m := newTestModel(t)
	local := catalog.ServerDescriptor{ID: "git", Name: "Git", Kind: catalog.KindDocker, Source: "local"}
	m, cmd := update(t, m, catalogMsg{servers: []catalog.ServerDescriptor{local}})
	m, _ = update(t, m, cmd())
	require.Len(t, m.servers, 1)

	npm := catalog.ServerDescriptor{ID: "git", Name: "npm git", Kind: catalog.KindNPM, Source: "npm"}
	fresh := catalog.ServerDescriptor{ID: "fetch", Name: "Fetch", Kind: catalog.KindNPM, Source: "npm"}
	m, cmd = update(t, m, engine.JobMsg{Key: "unknown", Msg: batchMsg{source: "npm", priority: 2, descs: []catalog.ServerDescriptor{npm, fresh}}})
	require.NotNil(t, cmd)
	m, _ = update(t, m, nextChunk())

	require.Len(t, m.servers, 2)
	assert.Equal(t, "Git", m.servers[m.index["git"]].Name)
	assert.Equal(t, "local", m.servers[m.index["git"]].Source)
	assert.Equal(t, "Fetch", m.servers[m.index["fetch"]].Name)
}

func TestBatchReplacesLessAuthoritativeRow(t *testing.T) {
	m := newTestModel(t)
	gh := catalog.ServerDescriptor{ID: "slack", Name: "github slack", Source: "github"}
	m, _ = update(t, m, engine.JobMsg{Key: "unknown", Msg: batchMsg{source: "github", priority: 3, descs: []catalog.ServerDescriptor{gh}}})
	m, _ = update(t, m, nextChunk())

	official := catalog.ServerDescriptor{ID: "slack", Name: "official slack", Source: "official"}
	m, _ = update(t, m, engine.JobMsg{Key: "unknown", Msg: batchMsg{source: "official", priority: 1, descs: []catalog.ServerDescriptor{official}}})
	m, _ = update(t, m, nextChunk())
	require.Len(t, m.servers, 1)
	assert.Equal(t, "official slack", m.servers[0].Name)

	m, _ = update(t, m, engine.JobMsg{Key: "unknown", Msg: batchMsg{source: "github", priority: 3, descs: []catalog.ServerDescriptor{gh}}})
	m, _ = update(t, m, nextChunk())
	assert.Equal(t, "official slack", m.servers[0].Name)
}

func TestMergedDiscoveryResultIsFinal(t *testing.T) {
	m := newTestModel(t)
	local := catalog.ServerDescriptor{ID: "git", Name: "Git", Source: "local"}
	m, cmd := update(t, m, catalogMsg{servers: []catalog.ServerDescriptor{local}})
	m, _ = update(t, m, cmd())

	updated := catalog.ServerDescriptor{ID: "git", Name: "Git (edited)", Source: "local"}
	m, cmd = update(t, m, engine.DoneMsg{Key: "unknown", Result: discovery.Result{Descriptors: []catalog.ServerDescriptor{updated}}})
	require.NotNil(t, cmd)
	m, _ = update(t, m, nextChunk())
	require.Len(t, m.servers, 1)
	assert.Equal(t, "Git (edited)", m.servers[0].Name)
	assert.False(t, m.discovering)
}

func TestStaleJobMessagesDropped(t *testing.T) {
	m := newTestModel(t)
	block := func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mgr.Start(jobDiscover, block)
	gen := m.mgr.Start(jobDiscover, block)
	require.Equal(t, uint64(2), gen)

	m, _ = update(t, m, engine.JobMsg{Key: jobDiscover, Gen: 1, Msg: batchMsg{source: "old", descs: descs(5, "old")}})
	assert.Empty(t, m.pending)

	m, _ = update(t, m, engine.DoneMsg{Key: jobDiscover, Gen: 1, Err: context.Canceled})
	assert.Empty(t, m.statusLine)

	m, _ = update(t, m, engine.JobMsg{Key: jobDiscover, Gen: 2, Msg: batchMsg{source: "new", descs: descs(2, "new")}})
	assert.Len(t, m.pending, 2)
}

func TestInstallProgressAndResult(t *testing.T) {
	m := newTestModel(t)
	m, cmd := update(t, m, catalogMsg{servers: descs(2, "x")})
	m, _ = update(t, m, cmd())

	m, _ = update(t, m, engine.JobMsg{Key: jobInstall, Msg: install.Progress{Server: "x-000", Stage: install.StageBuild, Message: "building image"}})
	assert.Equal(t, "build: building image", m.status["x-000"].text)

	reports := []session.InstallReport{
		{Attempt: install.Attempt{Descriptor: m.servers[0], Outcome: install.OutcomeFallbackSuccess, Kind: catalog.KindNPM, Path: install.PathFallback}},
		{Attempt: install.Attempt{Descriptor: m.servers[1], Outcome: install.OutcomeFailure, Detail: "prerequisite missing: node"}},
	}
	m, _ = update(t, m, engine.DoneMsg{Key: jobInstall, Result: reports})
	assert.Equal(t, "installed via npm (fallback)", m.status["x-000"].text)
	assert.Contains(t, m.status["x-001"].text, "prerequisite missing")
	assert.Equal(t, "installed 1 of 2", m.statusLine)
	assert.Contains(t, m.describe(m.servers[0]), "id:          x-000")
}

func TestFilterAndSelection(t *testing.T) {
	m := newTestModel(t)
	list := descs(3, "srv")
	list[2].Tags = []string{"Browser"}
	m, cmd := update(t, m, catalogMsg{servers: list})
	m, _ = update(t, m, cmd())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	require.True(t, m.inputMode)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("brow")})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.inputMode)
	require.Len(t, m.visible(), 1)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")})
	assert.True(t, m.selected["srv-002"])
	got := m.installSet()
	require.Len(t, got, 1)
	assert.Equal(t, "srv-002", got[0].ID)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Len(t, m.visible(), 3)
}

func TestViewRenders(t *testing.T) {
	m := newTestModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	m, cmd := update(t, m, catalogMsg{servers: descs(3, "srv")})
	m, _ = update(t, m, cmd())
	out := m.View()
	assert.Contains(t, out, "SERVERS (3)")
	assert.Contains(t, out, "srv-000")
	assert.Contains(t, out, "No supported IDE detected")
}

func TestWatchFileDebounces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := make(chan struct{}, 10)
	go WatchFile(ctx, path, 50*time.Millisecond, nil, func() { fired <- struct{}{} })
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`{"n": %d}`, i)), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0644))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
	select {
	case <-fired:
		t.Fatal("burst was not collapsed")
	case <-time.After(200 * time.Millisecond):
	}
}
