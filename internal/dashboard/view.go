package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/logs"
	"github.com/JuanVilla424/mcpsetup/internal/syscheck"
)

var Version string

func (m Model) View() string {
	if !m.ready {
		return "Loading mcpsetup..."
	}

	w := m.width
	if w < 60 {
		w = 60
	}
	h := m.height
	if h < 20 {
		h = 20
	}

	if m.showDetail {
		return m.renderDetailOverlay(w, h)
	}

	var b strings.Builder

	header := titleStyle.Render(fmt.Sprintf(" mcpsetup %s ", Version))
	dot := idleDot
	if len(m.mgr.Running()) > 0 {
		dot = runningDot
	}
	status := fmt.Sprintf("  %s %s    %s", dot, m.activity(), time.Now().Format("02 Jan 2006 15:04"))
	b.WriteString(header + status + "\n")
	b.WriteString(subtitleStyle.Render("  "+m.checkSummary()) + "\n\n")

	logsLines := 6
	tgtLines := len(m.targetRows()) + 2
	if tgtLines > 8 {
		tgtLines = 8
	}
	listMax := h - 3 - logsLines - tgtLines - 9
	if listMax < 5 {
		listMax = 5
	}

	b.WriteString(borderStyle.Width(w - 4).Render(m.renderServers(w-4, listMax)))
	b.WriteString("\n")
	b.WriteString(borderStyle.Width(w - 4).Render(m.renderTargets(w-4, tgtLines)))
	b.WriteString("\n")
	b.WriteString(logBorderStyle.Width(w - 4).Render(m.renderLogs(w-4, logsLines)))
	b.WriteString("\n")

	if m.inputMode {
		b.WriteString(" filter: " + m.inputBuffer + "█\n")
	} else if m.statusLine != "" {
		b.WriteString(" " + truncate(m.statusLine, w-2) + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(" q: quit  tab: switch  ↑↓: nav  space: select  enter: details  /: filter"))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(" i: install  u: uninstall  v: verify  d: discover  l: local  r: reload  c: check  x: cancel"))
	return b.String()
}

func (m Model) activity() string {
	switch {
	case m.mgr.IsRunning(jobInstall):
		return "Installing"
	case m.discovering:
		return "Discovering"
	case m.appending:
		return "Loading"
	}
	return "Idle"
}

func (m Model) checkSummary() string {
	if m.check == nil {
		return "system check running"
	}
	c := m.check
	parts := []string{c.Platform, "check " + string(c.Status)}
	if f := c.Failed(); len(f) > 0 {
		names := make([]string, len(f))
		for i, ch := range f {
			names[i] = ch.Name
		}
		parts = append(parts, "missing: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderServers(width, maxItems int) string {
	var b strings.Builder
	vis := m.visible()
	title := "SERVERS"
	if m.focus == focusServers {
		title = "» " + title
	}
	count := fmt.Sprintf("%s (%d", title, len(vis))
	if m.filter != "" {
		count += fmt.Sprintf(" of %d, filter %q", len(m.servers), m.filter)
	}
	if n := len(m.selected); n > 0 {
		count += fmt.Sprintf(", %d selected", n)
	}
	b.WriteString(panelTitleStyle.Render(count+")") + "\n")

	if len(vis) == 0 {
		b.WriteString(inactiveStyle.Render("  No servers") + "\n")
		return b.String()
	}

	visibleItems := maxItems
	if len(vis) > maxItems {
		visibleItems = max(1, maxItems-2)
	}
	start, end := viewport(m.cursor, len(vis), visibleItems)

	colSel, colID, colKind, colSrc := 3, 22, 7, 10
	colDesc := width - colSel - colID - colKind - colSrc - 8
	if colDesc < 10 {
		colDesc = 10
	}

	for row := start; row < end; row++ {
		d := m.servers[vis[row]]
		sel := "[ ]"
		if m.selected[d.ID] {
			sel = activeStyle.Render("[x]")
		}
		desc := oneLine(d.Description)
		if st, ok := m.status[d.ID]; ok {
			desc = styleLevel(st.level, truncate(st.text, colDesc))
		} else {
			desc = truncate(desc, colDesc)
		}
		prefix := "  "
		focused := m.focus == focusServers && row == m.cursor
		if focused {
			prefix = "> "
		}
		line := prefix + padRaw(sel, colSel) + " " +
			padStr(truncate(d.ID, colID), colID) + " " +
			padStr(string(d.Kind), colKind) + " " +
			padStr(truncate(d.Source, colSrc), colSrc) + " " +
			desc
		if focused {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if start > 0 {
		b.WriteString(fmt.Sprintf("  ↑ %d more above\n", start))
	}
	if end < len(vis) {
		b.WriteString(fmt.Sprintf("  ↓ %d more below\n", len(vis)-end))
	}
	return b.String()
}

func (m Model) renderTargets(width, maxItems int) string {
	var b strings.Builder
	title := "TARGETS"
	if m.focus == focusTargets {
		title = "» " + title
	}
	b.WriteString(panelTitleStyle.Render(title) + "\n")
	rows := m.targetRows()
	if len(rows) == 0 {
		b.WriteString(inactiveStyle.Render("  No supported IDE detected") + "\n")
		return b.String()
	}
	start, end := viewport(m.tgtCursor, len(rows), max(1, maxItems-1))
	for i := start; i < end; i++ {
		t := rows[i]
		sel := "[ ]"
		if m.targetSel[t.ID] {
			sel = activeStyle.Render("[x]")
		}
		name := t.Name
		if t.Parent != "" {
			name = "  └ " + name
		}
		line := "  " + padRaw(sel, 3) + " " + padStr(truncate(name, 24), 24) + " " +
			inactiveStyle.Render(truncate(t.ConfigFile, width-36))
		if m.focus == focusTargets && i == m.tgtCursor {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m Model) renderLogs(width, maxLines int) string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("LOGS") + "\n")
	if len(m.logEntries) == 0 {
		b.WriteString(inactiveStyle.Render("  No activity") + "\n")
		for i := 0; i < maxLines-2; i++ {
			b.WriteString("\n")
		}
		return b.String()
	}
	start := max(0, len(m.logEntries)-(maxLines-1))
	entries := m.logEntries[start:]
	for _, e := range entries {
		line := fmt.Sprintf("  [%s] %-10s %s", e.Time.Format("15:04:05"), truncate(e.Component, 10), e.Message)
		b.WriteString(styleLevel(e.Level, truncate(line, width-2)) + "\n")
	}
	for i := len(entries) + 1; i < maxLines; i++ {
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderDetailOverlay(w, h int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" "+m.detailTitle+" ") + "\n\n")
	maxShow := max(5, h-8)
	end := min(len(m.detailLines), m.detailScroll+maxShow)
	for _, l := range m.detailLines[m.detailScroll:end] {
		b.WriteString(truncate(l, w-8) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("esc: close  ↑↓: scroll"))
	return overlayStyle.Width(w - 4).Render(b.String())
}

func (m Model) describe(d catalog.ServerDescriptor) []string {
	lines := []string{
		"id:          " + d.ID,
		"kind:        " + string(d.Kind),
		"source:      " + d.Source,
	}
	add := func(label, v string) {
		if v != "" {
			lines = append(lines, fmt.Sprintf("%-12s %s", label+":", v))
		}
	}
	add("category", d.Category)
	add("version", d.Version)
	add("package", d.Spec.Package)
	add("image", d.Spec.Image)
	add("repository", d.Spec.Repository)
	add("url", d.Spec.URL)
	add("requires", strings.Join(d.Prerequisites, ", "))
	add("env", strings.Join(d.Spec.RequiredEnv, ", "))
	add("targets", strings.Join(d.Targets, ", "))
	if d.Fallback != nil {
		add("fallback", string(d.Fallback.Kind))
	}
	if d.Description != "" {
		lines = append(lines, "", d.Description)
	}
	if r, ok := m.reports[d.ID]; ok {
		a := r.Attempt
		lines = append(lines, "", fmt.Sprintf("last attempt: %s via %s (%s) in %s", a.Outcome, a.Kind, a.Path, a.Duration.Round(time.Second)))
		if a.Command.Command != "" {
			lines = append(lines, "command: "+a.Command.Command+" "+strings.Join(a.Command.Args, " "))
		}
		for _, p := range a.Stages {
			lines = append(lines, fmt.Sprintf("  %s %-13s %s", p.Time.Format("15:04:05"), p.Stage, p.Message))
		}
		for _, w := range a.Warnings {
			lines = append(lines, warnStyle.Render("  warning: "+w))
		}
		for _, c := range r.Configs {
			if c.OK() {
				lines = append(lines, activeStyle.Render("  wrote "+c.Path))
			} else {
				lines = append(lines, errorStyle.Render(fmt.Sprintf("  %s: %v", c.Target, c.Err)))
			}
		}
	}
	if v, ok := m.verified[d.ID]; ok {
		if v.Healthy() {
			lines = append(lines, "", fmt.Sprintf("verified %s %s, tools: %s", v.ServerName, v.ServerVersion, strings.Join(v.Tools, ", ")))
		} else {
			lines = append(lines, "", errorStyle.Render("verify failed: "+v.Error))
		}
	}
	return lines
}

func describeCheck(r syscheck.Report) []string {
	lines := []string{fmt.Sprintf("platform %s, status %s (%s)", r.Platform, r.Status, r.Took.Round(time.Millisecond)), ""}
	for _, c := range r.Checks {
		mark := activeStyle.Render("ok  ")
		if !c.OK {
			mark = warnStyle.Render("warn")
			if c.Critical {
				mark = errorStyle.Render("FAIL")
			}
		}
		name := c.Name
		if c.Version != "" {
			name += " " + c.Version
		}
		lines = append(lines, fmt.Sprintf("  %s %-20s %s", mark, name, c.Detail))
	}
	return lines
}

func styleLevel(l logs.LogLevel, s string) string {
	switch l {
	case logs.LevelSuccess:
		return activeStyle.Render(s)
	case logs.LevelWarn:
		return warnStyle.Render(s)
	case logs.LevelError:
		return errorStyle.Render(s)
	case logs.LevelDebug:
		return inactiveStyle.Render(s)
	}
	return s
}

func viewport(cursor, total, maxVisible int) (int, int) {
	if total <= maxVisible {
		return 0, total
	}
	start := 0
	if cursor >= maxVisible {
		start = cursor - maxVisible + 1
	}
	end := start + maxVisible
	if end > total {
		end = total
		start = end - maxVisible
	}
	if start < 0 {
		start = 0
	}
	return start, end
}

// padStr pads a plain string (no ANSI) to targetWidth.
func padStr(s string, targetWidth int) string {
	if len(s) >= targetWidth {
		return s
	}
	return s + strings.Repeat(" ", targetWidth-len(s))
}

// padRaw pads a styled string using lipgloss.Width for visible width.
func padRaw(styled string, targetWidth int) string {
	vis := lipgloss.Width(styled)
	if vis >= targetWidth {
		return styled
	}
	return styled + strings.Repeat(" ", targetWidth-vis)
}

func truncate(s string, n int) string {
	if n <= 3 {
		n = 4
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(s)
}
