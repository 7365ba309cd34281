package web

import (
	"context"
	"sort"
	"time"

	"github.com/JuanVilla424/mcpsetup/internal/docker"
	"github.com/JuanVilla424/mcpsetup/internal/history"
	"github.com/JuanVilla424/mcpsetup/internal/logs"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
)

const snapshotLogs = 100

// DataSnapshot is the dashboard state pushed on connect and after each job.
type DataSnapshot struct {
	Timestamp       time.Time              `json:"timestamp"`
	Version         string                 `json:"version"`
	CatalogSize     int                    `json:"catalog_size"`
	Profiles        []string               `json:"profiles"`
	Installed       []history.Installed    `json:"installed"`
	Targets         []string               `json:"targets"`
	DockerAvailable bool                   `json:"docker_available"`
	Containers      []docker.ContainerInfo `json:"containers"`
	Jobs            []string               `json:"jobs"`
	LogEntries      []logs.LogEntry        `json:"log_entries"`
}

func (s *Server) snapshot(ctx context.Context) DataSnapshot {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c := s.s.Catalog()
	snap := DataSnapshot{
		Timestamp:   time.Now(),
		Version:     s.s.Version,
		CatalogSize: len(c.Servers),
		Profiles:    c.ProfileNames(),
		Targets:     targets.IDs(targets.Detect(s.s.Targets)),
		Jobs:        s.mgr.Running(),
	}
	sort.Strings(snap.Jobs)

	installed, err := s.s.History.Servers(ctx)
	if err != nil {
		s.logger.Debug("installed servers unavailable", "error", err)
	}
	snap.Installed = installed

	if s.s.Docker.Available(ctx) {
		snap.DockerAvailable = true
		if list, err := s.s.Docker.List(ctx); err == nil {
			snap.Containers = list
		}
	}

	entries := s.s.Logs.Snapshot()
	if len(entries) > snapshotLogs {
		entries = entries[len(entries)-snapshotLogs:]
	}
	snap.LogEntries = entries
	return snap
}
