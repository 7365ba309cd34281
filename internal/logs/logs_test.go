package logs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer("", 3)
	for i := 0; i < 5; i++ {
		rb.Add(LogEntry{Component: "test", Message: string(rune('a' + i))})
	}
	snap := rb.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].Message)
	assert.Equal(t, "e", snap[2].Message)
}

func TestRingBufferSkipsDebugUnlessEnabled(t *testing.T) {
	rb := NewRingBuffer("", 10)
	rb.Add(LogEntry{Level: LevelDebug, Message: "hidden"})
	assert.Empty(t, rb.Snapshot())

	rb.SetDebug(true)
	rb.Add(LogEntry{Level: LevelDebug, Message: "shown"})
	assert.Len(t, rb.Snapshot(), 1)
}

func TestServerLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rb := NewRingBuffer(dir, 10)
	defer rb.Close()

	now := time.Date(2025, 3, 1, 10, 30, 0, 0, time.Local)
	rb.Add(LogEntry{Time: now, Component: "install", Server: "git", Message: "cloning: done", Level: LevelWarn})
	rb.Add(LogEntry{Time: now, Component: "install", Message: "unrelated"})

	entries := ReadServerLog(dir, "git")
	require.Len(t, entries, 1)
	assert.Equal(t, "install", entries[0].Component)
	assert.Equal(t, "git", entries[0].Server)
	assert.Equal(t, "cloning: done", entries[0].Message)
	assert.Equal(t, LevelWarn, entries[0].Level)
	assert.True(t, entries[0].Time.Equal(now))
}

func TestNewLoggerFeedsRingBuffer(t *testing.T) {
	rb := NewRingBuffer("", 10)
	var notified []LogEntry
	rb.OnAdd(func(e LogEntry) { notified = append(notified, e) })

	logger := NewLogger(rb, LoggerOptions{})
	logger.Named("discovery").Warn("source failed", "source", "npm", "error", errors.New("timeout"))
	logger.Named("install").Info("installed", "server", "git", "status", "ok")
	logger.Debug("not recorded")

	snap := rb.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "discovery", snap[0].Component)
	assert.Equal(t, LevelWarn, snap[0].Level)
	assert.Equal(t, "source failed source=npm error=timeout", snap[0].Message)

	assert.Equal(t, "install", snap[1].Component)
	assert.Equal(t, "git", snap[1].Server)
	assert.Equal(t, LevelSuccess, snap[1].Level)
	assert.Len(t, notified, 2)
}
