// Package dashboard is the terminal UI. Every slow call runs as an engine
// job; results come back as messages through msgChan, and large lists are
// appended a chunk per message so key handling never waits on them.
package dashboard

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/engine"
	"github.com/JuanVilla424/mcpsetup/internal/health"
	"github.com/JuanVilla424/mcpsetup/internal/logs"
	"github.com/JuanVilla424/mcpsetup/internal/session"
	"github.com/JuanVilla424/mcpsetup/internal/syscheck"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
)

// chunkSize is how many list rows one Update may append.
const chunkSize = 25

const (
	focusServers = "servers"
	focusTargets = "targets"
)

const (
	jobDiscover = "discover"
	jobInstall  = "install"
	jobCheck    = "check"
	jobVerify   = "verify"
	jobRemove   = "uninstall"
)

type serverStatus struct {
	text  string
	level logs.LogLevel
}

type Model struct {
	s       *session.Session
	mgr     *engine.Manager
	msgChan chan tea.Msg
	quit    chan struct{}
	stop    *sync.Once

	servers   []catalog.ServerDescriptor
	index     map[string]int
	rowPrio   map[string]int
	srcPrio   map[string]int
	pending   []pendingRow
	appending bool
	status    map[string]serverStatus
	selected  map[string]bool
	reports   map[string]session.InstallReport
	verified  map[string]health.Report
	cursor    int

	filter      string
	inputMode   bool
	inputBuffer string

	targets   []targets.Target
	targetSel map[string]bool
	tgtCursor int
	focus     string

	check       *syscheck.Report
	discovering bool
	sourceErrs  []string
	statusLine  string

	logEntries []logs.LogEntry

	showDetail   bool
	detailTitle  string
	detailLines  []string
	detailScroll int

	width  int
	height int
	ready  bool
}

func NewModel(s *session.Session) Model {
	m := Model{
		s:         s,
		msgChan:   make(chan tea.Msg, 64),
		quit:      make(chan struct{}),
		stop:      &sync.Once{},
		index:     make(map[string]int),
		rowPrio:   make(map[string]int),
		srcPrio:   make(map[string]int),
		status:    make(map[string]serverStatus),
		selected:  make(map[string]bool),
		reports:   make(map[string]session.InstallReport),
		verified:  make(map[string]health.Report),
		targetSel: make(map[string]bool),
		focus:     focusServers,
	}
	if s != nil {
		m.mgr = engine.NewManager(m.send, s.Logger)
		sel, _ := s.SelectTargets(nil)
		m.targets = targets.Detect(s.Targets)
		for _, t := range sel {
			m.targetSel[t.ID] = true
		}
		ch, quit := m.msgChan, m.quit
		s.Logs.OnAdd(func(e logs.LogEntry) {
			select {
			case ch <- logMsg{entry: e}:
			case <-quit:
			default:
			}
		})
	} else {
		m.mgr = engine.NewManager(m.send, nil)
	}
	return m
}

// send delivers msg to the UI loop. It gives up once the program has quit
// so background jobs never block on a dead listener.
func (m Model) send(msg tea.Msg) {
	select {
	case m.msgChan <- msg:
	case <-m.quit:
	}
}

func (m Model) shutdown() {
	m.stop.Do(func() {
		close(m.quit)
		m.mgr.StopAll()
	})
}

// Run starts the program and blocks until the user quits.
func Run(s *session.Session) error {
	m := NewModel(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := WatchFile(ctx, s.Config.CatalogPath, 300*time.Millisecond, s.Logger, func() {
			m.send(catalogChangedMsg{})
		})
		if err != nil {
			s.Logger.Warn("catalog watcher stopped", "error", err)
		}
	}()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	m.shutdown()
	return err
}

func (m Model) Init() tea.Cmd {
	m.startCheck()
	return tea.Batch(
		m.loadCatalog(false),
		listenChannel(m.msgChan),
	)
}

func listenChannel(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

type logMsg struct{ entry logs.LogEntry }

type catalogChangedMsg struct{}

type catalogMsg struct {
	servers []catalog.ServerDescriptor
	err     error
}

// chunkMsg continues appending pending rows.
type chunkMsg struct{}

// batchMsg is one discovery source's output.
type batchMsg struct {
	source   string
	priority int
	descs    []catalog.ServerDescriptor
}

// pendingRow waits for the next chunk. A row only replaces a listed one of
// equal or lower priority number unless merged is set.
type pendingRow struct {
	desc     catalog.ServerDescriptor
	priority int
	merged   bool
}

func rows(descs []catalog.ServerDescriptor, priority int) []pendingRow {
	out := make([]pendingRow, len(descs))
	for i, d := range descs {
		out[i] = pendingRow{desc: d, priority: priority}
	}
	return out
}

func (m Model) loadCatalog(reload bool) tea.Cmd {
	s := m.s
	return func() tea.Msg {
		if s == nil {
			return catalogMsg{}
		}
		c := s.Catalog()
		var err error
		if reload {
			c, err = s.ReloadCatalog()
		}
		return catalogMsg{servers: c.List(), err: err}
	}
}

func nextChunk() tea.Msg { return chunkMsg{} }
