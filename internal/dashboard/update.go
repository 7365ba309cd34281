package dashboard

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/discovery"
	"github.com/JuanVilla424/mcpsetup/internal/engine"
	"github.com/JuanVilla424/mcpsetup/internal/health"
	"github.com/JuanVilla424/mcpsetup/internal/install"
	"github.com/JuanVilla424/mcpsetup/internal/logs"
	"github.com/JuanVilla424/mcpsetup/internal/session"
	"github.com/JuanVilla424/mcpsetup/internal/syscheck"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showDetail {
			return m.handleDetailKey(msg)
		}
		if m.inputMode {
			return m.handleInputKey(msg)
		}
		return m.handleMainKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case logMsg:
		m.logEntries = append(m.logEntries, msg.entry)
		if len(m.logEntries) > 200 {
			m.logEntries = m.logEntries[len(m.logEntries)-200:]
		}
		return m, listenChannel(m.msgChan)

	case catalogChangedMsg:
		return m, tea.Batch(listenChannel(m.msgChan), m.loadCatalog(true))

	case catalogMsg:
		if msg.err != nil {
			m.statusLine = "catalog reload failed: " + msg.err.Error()
		}
		m.servers = nil
		m.index = make(map[string]int)
		m.rowPrio = make(map[string]int)
		m.pending = rows(msg.servers, 0)
		return m, m.startAppend()

	case chunkMsg:
		return m.appendChunk()

	case engine.JobMsg:
		if !m.mgr.Current(msg.Key, msg.Gen) {
			return m, listenChannel(m.msgChan)
		}
		var cmd tea.Cmd
		m, cmd = m.handleJobMsg(msg.Msg)
		return m, tea.Batch(listenChannel(m.msgChan), cmd)

	case engine.DoneMsg:
		if !m.mgr.Current(msg.Key, msg.Gen) {
			return m, listenChannel(m.msgChan)
		}
		var cmd tea.Cmd
		m, cmd = m.handleDone(msg)
		return m, tea.Batch(listenChannel(m.msgChan), cmd)
	}
	return m, nil
}

func (m Model) handleJobMsg(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case batchMsg:
		m.srcPrio[msg.source] = msg.priority
		m.pending = append(m.pending, rows(msg.descs, msg.priority)...)
		m.statusLine = fmt.Sprintf("%s: %d servers", msg.source, len(msg.descs))
		return m, m.startAppend()
	case install.Progress:
		m.status[msg.Server] = serverStatus{text: string(msg.Stage) + ": " + msg.Message, level: logs.LevelInfo}
	}
	return m, nil
}

func (m Model) handleDone(msg engine.DoneMsg) (Model, tea.Cmd) {
	switch res := msg.Result.(type) {
	case discovery.Result:
		m.discovering = false
		m.sourceErrs = nil
		for _, e := range res.Errors {
			m.sourceErrs = append(m.sourceErrs, e.Error())
		}
		for _, d := range res.Descriptors {
			m.pending = append(m.pending, pendingRow{desc: d, priority: m.srcPrio[d.Source], merged: true})
		}
		m.statusLine = fmt.Sprintf("discovery finished: %d servers, %d source errors", len(res.Descriptors), len(res.Errors))
		return m, m.startAppend()

	case []session.InstallReport:
		ok := 0
		for _, r := range res {
			id := r.Attempt.Descriptor.ID
			m.reports[id] = r
			if r.Attempt.Succeeded() {
				ok++
				text := fmt.Sprintf("installed via %s (%s)", r.Attempt.Kind, r.Attempt.Path)
				if n := failedWrites(r.Configs); n > 0 {
					m.status[id] = serverStatus{text: fmt.Sprintf("%s, %d config writes failed", text, n), level: logs.LevelWarn}
				} else {
					m.status[id] = serverStatus{text: text, level: logs.LevelSuccess}
				}
			} else {
				m.status[id] = serverStatus{text: "failed: " + r.Attempt.Detail, level: logs.LevelError}
			}
		}
		m.selected = make(map[string]bool)
		m.statusLine = fmt.Sprintf("installed %d of %d", ok, len(res))

	case syscheck.Report:
		m.check = &res
		m.statusLine = "system check: " + string(res.Status)

	case health.Report:
		m.verified[res.Server] = res
		if res.Healthy() {
			m.status[res.Server] = serverStatus{text: fmt.Sprintf("verified: %s %s, %d tools", res.ServerName, res.ServerVersion, len(res.Tools)), level: logs.LevelSuccess}
		} else {
			m.status[res.Server] = serverStatus{text: "verify failed: " + res.Error, level: logs.LevelError}
		}

	case session.UninstallReport:
		delete(m.reports, res.Server)
		if res.Err != nil {
			m.status[res.Server] = serverStatus{text: "uninstall incomplete: " + res.Error, level: logs.LevelWarn}
		} else {
			m.status[res.Server] = serverStatus{text: fmt.Sprintf("uninstalled from %d configs", len(res.Removed)), level: logs.LevelInfo}
		}
	}
	if msg.Err != nil {
		m.statusLine = msg.Key + ": " + msg.Err.Error()
	}
	return m, nil
}

func failedWrites(rs []targets.Result) int {
	n := 0
	for _, r := range rs {
		if !r.OK() {
			n++
		}
	}
	return n
}

func (m Model) startAppend() tea.Cmd {
	if len(m.pending) == 0 || m.appending {
		return nil
	}
	return nextChunk
}

// appendChunk merges at most chunkSize pending rows and schedules the rest
// as a continuation. A listed id is replaced only by a row from a source at
// least as authoritative, or by the merged discovery result.
func (m Model) appendChunk() (tea.Model, tea.Cmd) {
	n := min(chunkSize, len(m.pending))
	for _, r := range m.pending[:n] {
		d := r.desc
		if i, ok := m.index[d.ID]; ok {
			if r.merged || r.priority <= m.rowPrio[d.ID] {
				m.servers[i] = d
				m.rowPrio[d.ID] = r.priority
			}
			continue
		}
		m.index[d.ID] = len(m.servers)
		m.rowPrio[d.ID] = r.priority
		m.servers = append(m.servers, d)
	}
	m.pending = m.pending[n:]
	if len(m.pending) > 0 {
		m.appending = true
		return m, nextChunk
	}
	m.appending = false
	m.pending = nil
	return m, nil
}

// visible returns indexes into m.servers that match the filter.
func (m Model) visible() []int {
	out := make([]int, 0, len(m.servers))
	f := strings.ToLower(m.filter)
	for i, d := range m.servers {
		if f == "" || matches(d, f) {
			out = append(out, i)
		}
	}
	return out
}

func matches(d catalog.ServerDescriptor, f string) bool {
	if strings.Contains(d.ID, f) || strings.Contains(strings.ToLower(d.Name), f) ||
		strings.Contains(strings.ToLower(d.Description), f) || strings.Contains(d.Category, f) {
		return true
	}
	for _, t := range d.Tags {
		if strings.Contains(strings.ToLower(t), f) {
			return true
		}
	}
	return false
}

func (m Model) current() (catalog.ServerDescriptor, bool) {
	vis := m.visible()
	if m.cursor < 0 || m.cursor >= len(vis) {
		return catalog.ServerDescriptor{}, false
	}
	return m.servers[vis[m.cursor]], true
}

func (m Model) handleMainKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.shutdown()
		return m, tea.Quit
	case "esc":
		if m.filter != "" {
			m.filter = ""
			m.cursor = 0
			return m, nil
		}
		if m.cancelJobs() {
			return m, nil
		}
		m.shutdown()
		return m, tea.Quit
	case "tab":
		if m.focus == focusServers {
			m.focus = focusTargets
		} else {
			m.focus = focusServers
		}
	case "down", "j":
		m.move(1)
	case "up", "k":
		m.move(-1)
	case "pgdown":
		m.move(10)
	case "pgup":
		m.move(-10)
	case " ", "space":
		m.toggle()
	case "enter":
		if d, ok := m.current(); ok && m.focus == focusServers {
			m.showDetail = true
			m.detailTitle = d.Name
			m.detailLines = m.describe(d)
			m.detailScroll = 0
		}
	case "/":
		m.inputMode = true
		m.inputBuffer = m.filter
	case "x":
		m.cancelJobs()
	case "r":
		return m, m.loadCatalog(true)
	case "d":
		return m.startDiscover(discovery.RefreshAll), nil
	case "l":
		return m.startDiscover(discovery.LocalOnly), nil
	case "i":
		return m.startInstall(), nil
	case "u":
		return m.startUninstall(), nil
	case "v":
		return m.startVerify(), nil
	case "c":
		if m.check == nil {
			m.startCheck()
			m.statusLine = "running system check"
			return m, nil
		}
		m.showDetail = true
		m.detailTitle = "System check"
		m.detailLines = describeCheck(*m.check)
		m.detailScroll = 0
	}
	return m, nil
}

func (m *Model) move(delta int) {
	if m.focus == focusTargets {
		m.tgtCursor = clamp(m.tgtCursor+delta, 0, len(m.targetRows())-1)
		return
	}
	m.cursor = clamp(m.cursor+delta, 0, len(m.visible())-1)
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

func (m *Model) toggle() {
	if m.focus == focusTargets {
		rows := m.targetRows()
		if m.tgtCursor < len(rows) {
			id := rows[m.tgtCursor].ID
			m.targetSel[id] = !m.targetSel[id]
		}
		return
	}
	if d, ok := m.current(); ok {
		if m.selected[d.ID] {
			delete(m.selected, d.ID)
		} else {
			m.selected[d.ID] = true
		}
	}
}

// targetRows flattens detected targets and their extensions.
func (m Model) targetRows() []targets.Target {
	var out []targets.Target
	for _, t := range m.targets {
		out = append(out, t.All()...)
	}
	return out
}

func (m Model) cancelJobs() bool {
	cancelled := false
	for _, k := range []string{jobDiscover, jobInstall} {
		if m.mgr.Cancel(k) {
			cancelled = true
		}
	}
	return cancelled
}

func (m Model) startCheck() {
	s := m.s
	if s == nil {
		return
	}
	m.mgr.Start(jobCheck, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		return s.SystemCheck(ctx), nil
	})
}

func (m Model) startDiscover(mode discovery.Mode) Model {
	s := m.s
	if s == nil {
		return m
	}
	m.discovering = true
	m.statusLine = "discovering (" + mode.String() + ")"
	m.mgr.Start(jobDiscover, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		res := s.Discover(ctx, mode, func(b discovery.Batch) {
			emit(batchMsg{source: b.Source, priority: b.Priority, descs: b.Descriptors})
		})
		return res, nil
	})
	return m
}

// installSet is the selection, or the row under the cursor.
func (m Model) installSet() []catalog.ServerDescriptor {
	var out []catalog.ServerDescriptor
	for _, d := range m.servers {
		if m.selected[d.ID] {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		if d, ok := m.current(); ok {
			out = append(out, d)
		}
	}
	return out
}

func (m Model) chosenTargets() []targets.Target {
	var out []targets.Target
	for _, t := range m.targets {
		if m.targetSel[t.ID] {
			// Extensions are written alongside their parent.
			out = append(out, t)
			continue
		}
		for _, e := range t.Extensions {
			if m.targetSel[e.ID] {
				out = append(out, e)
			}
		}
	}
	return out
}

func (m Model) startInstall() Model {
	s := m.s
	if s == nil {
		return m
	}
	if m.mgr.IsRunning(jobInstall) {
		m.statusLine = "an install is already running (x cancels it)"
		return m
	}
	descs := m.installSet()
	if len(descs) == 0 {
		return m
	}
	tgts := m.chosenTargets()
	for _, d := range descs {
		m.status[d.ID] = serverStatus{text: "queued", level: logs.LevelInfo}
	}
	m.statusLine = fmt.Sprintf("installing %d servers into %d targets", len(descs), len(tgts))
	m.mgr.Start(jobInstall, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		return s.InstallMany(ctx, descs, tgts, func(p install.Progress) { emit(p) }), nil
	})
	return m
}

func (m Model) startUninstall() Model {
	s := m.s
	d, ok := m.current()
	if s == nil || !ok {
		return m
	}
	m.status[d.ID] = serverStatus{text: "uninstalling", level: logs.LevelInfo}
	m.mgr.Start(jobRemove+":"+d.ID, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		return s.Uninstall(ctx, d.ID), nil
	})
	return m
}

func (m Model) startVerify() Model {
	s := m.s
	d, ok := m.current()
	if s == nil || !ok {
		return m
	}
	m.status[d.ID] = serverStatus{text: "verifying", level: logs.LevelInfo}
	m.mgr.Start(jobVerify+":"+d.ID, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		return s.Verify(ctx, d.ID), nil
	})
	return m
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.inputMode = false
		m.inputBuffer = ""
		m.filter = ""
	case tea.KeyEnter:
		m.inputMode = false
	case tea.KeyBackspace:
		if len(m.inputBuffer) > 0 {
			r := []rune(m.inputBuffer)
			m.inputBuffer = string(r[:len(r)-1])
		}
		m.filter = m.inputBuffer
	case tea.KeySpace:
		m.inputBuffer += " "
		m.filter = m.inputBuffer
	case tea.KeyRunes:
		m.inputBuffer += string(msg.Runes)
		m.filter = m.inputBuffer
	}
	m.cursor = 0
	return m, nil
}

func (m Model) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "enter":
		m.showDetail = false
		m.detailScroll = 0
		return m, nil
	case "down", "j":
		m.detailScroll++
	case "up", "k":
		m.detailScroll--
	case "pgdown":
		m.detailScroll += 10
	case "pgup":
		m.detailScroll -= 10
	}
	maxShow := m.height - 8
	if maxShow < 5 {
		maxShow = 5
	}
	m.detailScroll = clamp(m.detailScroll, 0, max(0, len(m.detailLines)-maxShow))
	return m, nil
}
