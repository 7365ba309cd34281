// Package engine runs the UI's slow work in background jobs. Each job is
// keyed by what it does, carries a generation number, and posts messages
// back through a send function; output from a superseded or cancelled
// generation is dropped.
package engine

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-hclog"
)

// JobMsg wraps a message emitted by a running job.
type JobMsg struct {
	Key string
	Gen uint64
	Msg tea.Msg
}

// DoneMsg is posted once when a job function returns.
type DoneMsg struct {
	Key    string
	Gen    uint64
	Result any
	Err    error
}

// JobFunc does the work. emit posts intermediate messages; it drops them
// once the job is stale, so callers never need to check.
type JobFunc func(ctx context.Context, emit func(tea.Msg)) (any, error)

type runner struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

type Manager struct {
	mu      sync.Mutex
	runners map[string]*runner
	gens    map[string]uint64
	send    func(tea.Msg)
	logger  hclog.Logger
}

func NewManager(send func(tea.Msg), logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		runners: make(map[string]*runner),
		gens:    make(map[string]uint64),
		send:    send,
		logger:  logger.Named("engine"),
	}
}

// Start runs fn under key and returns its generation. A job already
// running under key is cancelled and its later output is dropped.
func (m *Manager) Start(key string, fn JobFunc) uint64 {
	m.mu.Lock()
	if prev, ok := m.runners[key]; ok {
		prev.cancel()
	}
	m.gens[key]++
	gen := m.gens[key]
	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{gen: gen, cancel: cancel, done: make(chan struct{})}
	m.runners[key] = r
	m.mu.Unlock()

	m.logger.Debug("job started", "key", key, "gen", gen)

	go func() {
		defer func() {
			m.mu.Lock()
			if cur, ok := m.runners[key]; ok && cur == r {
				delete(m.runners, key)
			}
			m.mu.Unlock()
			cancel()
			close(r.done)
		}()
		emit := func(msg tea.Msg) {
			if m.Current(key, gen) {
				m.send(JobMsg{Key: key, Gen: gen, Msg: msg})
			}
		}
		res, err := fn(ctx, emit)
		if !m.Current(key, gen) {
			m.logger.Debug("stale job result dropped", "key", key, "gen", gen)
			return
		}
		m.send(DoneMsg{Key: key, Gen: gen, Result: res, Err: err})
	}()
	return gen
}

// Current reports whether gen is the live generation for key. The UI checks
// it again on receipt since a cancel can land after the send.
func (m *Manager) Current(key string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[key] == gen
}

// Cancel stops the job under key without waiting for it. Anything it emits
// afterwards is discarded.
func (m *Manager) Cancel(key string) bool {
	m.mu.Lock()
	r, ok := m.runners[key]
	if ok {
		m.gens[key]++
		delete(m.runners, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	m.logger.Debug("job cancelled", "key", key, "gen", r.gen)
	return true
}

func (m *Manager) IsRunning(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runners[key]
	return ok
}

// Running returns the keys of live jobs.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.runners))
	for k := range m.runners {
		keys = append(keys, k)
	}
	return keys
}

// StopAll cancels every job and waits for the functions to return.
func (m *Manager) StopAll() {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.runners))
	for k, r := range m.runners {
		runners = append(runners, r)
		m.gens[k]++
	}
	m.runners = make(map[string]*runner)
	m.mu.Unlock()

	for _, r := range runners {
		r.cancel()
		<-r.done
	}
}
