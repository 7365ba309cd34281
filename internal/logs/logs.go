package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LevelInfo LogLevel = iota
	LevelSuccess
	LevelWarn
	LevelError
)

const LevelDebug LogLevel = -1

type LogEntry struct {
	Time      time.Time `json:"time"`
	Component string    `json:"component"`
	Server    string    `json:"server,omitempty"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
}

// RingBuffer keeps the most recent entries in memory for the UI panels and
// appends every entry to the log file. Entries tagged with a server also go
// to that server's own log.
type RingBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	head    int
	size    int
	cap     int
	dir     string
	file    *os.File
	debug   bool
	notify  func(LogEntry)
}

func (r *RingBuffer) SetDebug(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debug = on
}

// OnAdd registers a callback invoked after each accepted entry.
func (r *RingBuffer) OnAdd(fn func(LogEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notify = fn
}

// NewRingBuffer opens dir/mcpsetup.log. An empty dir keeps entries in memory only.
func NewRingBuffer(dir string, capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	rb := &RingBuffer{
		entries: make([]LogEntry, capacity),
		cap:     capacity,
		dir:     dir,
	}
	if dir != "" {
		os.MkdirAll(dir, 0755)
		f, err := os.OpenFile(filepath.Join(dir, "mcpsetup.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			rb.file = f
		}
	}
	return rb
}

var levelTag = [...]string{"INFO", " OK ", "WARN", "ERR "}

func tagFor(l LogLevel) string {
	if l == LevelDebug {
		return "DBG "
	}
	if int(l) >= 0 && int(l) < len(levelTag) {
		return levelTag[l]
	}
	return "INFO"
}

func formatLine(e LogEntry) string {
	msg := strings.ReplaceAll(e.Message, "\n", " ")
	if e.Server != "" {
		return fmt.Sprintf("%s [%s] %s (%s): %s\n",
			e.Time.Format("2006-01-02 15:04:05"), tagFor(e.Level), e.Component, e.Server, msg)
	}
	return fmt.Sprintf("%s [%s] %s: %s\n",
		e.Time.Format("2006-01-02 15:04:05"), tagFor(e.Level), e.Component, msg)
}

func (r *RingBuffer) Add(e LogEntry) {
	r.mu.Lock()
	if e.Level == LevelDebug && !r.debug {
		r.mu.Unlock()
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.entries[r.head] = e
	r.head = (r.head + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
	line := formatLine(e)
	if r.file != nil {
		r.file.WriteString(line)
	}
	if e.Server != "" && r.dir != "" {
		dir := filepath.Join(r.dir, "servers")
		os.MkdirAll(dir, 0755)
		f, err := os.OpenFile(serverLogPath(r.dir, e.Server), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			f.WriteString(line)
			f.Close()
		}
	}
	notify := r.notify
	r.mu.Unlock()

	if notify != nil {
		notify(e)
	}
}

func serverLogPath(dir, server string) string {
	return filepath.Join(dir, "servers", server+".log")
}

func (r *RingBuffer) Close() {
	if r.file != nil {
		r.file.Close()
	}
}

// ReadServerLog returns the entries recorded for one server.
func ReadServerLog(dir, server string) []LogEntry {
	data, err := os.ReadFile(serverLogPath(dir, server))
	if err != nil {
		return nil
	}
	var entries []LogEntry
	for _, line := range strings.Split(string(data), "\n") {
		e := parseLogLine(line)
		if !e.Time.IsZero() {
			entries = append(entries, e)
		}
	}
	return entries
}

func parseLogLine(line string) LogEntry {
	// Format: 2006-01-02 15:04:05 [TAG ] component (server): message
	var e LogEntry
	if len(line) < 27 {
		return e
	}

	t, err := time.ParseInLocation("2006-01-02 15:04:05", line[:19], time.Local)
	if err != nil {
		return e
	}
	e.Time = t

	switch strings.TrimSpace(line[21:25]) {
	case "OK":
		e.Level = LevelSuccess
	case "WARN":
		e.Level = LevelWarn
	case "ERR":
		e.Level = LevelError
	case "DBG":
		e.Level = LevelDebug
	default:
		e.Level = LevelInfo
	}

	rest := line[27:]
	colonIdx := strings.Index(rest, ": ")
	if colonIdx < 0 {
		e.Message = rest
		return e
	}
	head := rest[:colonIdx]
	if open := strings.Index(head, " ("); open >= 0 && strings.HasSuffix(head, ")") {
		e.Component = head[:open]
		e.Server = head[open+2 : len(head)-1]
	} else {
		e.Component = head
	}
	e.Message = rest[colonIdx+2:]
	return e
}

// CleanupLogs drops per-server logs older than retentionDays.
func CleanupLogs(dir string, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(filepath.Join(dir, "servers"))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, "servers", entry.Name()))
		}
	}
}

func (r *RingBuffer) Snapshot() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return nil
	}
	result := make([]LogEntry, r.size)
	start := (r.head - r.size + r.cap) % r.cap
	for i := 0; i < r.size; i++ {
		result[i] = r.entries[(start+i)%r.cap]
	}
	return result
}
