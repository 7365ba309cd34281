package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/discovery"
	"github.com/JuanVilla424/mcpsetup/internal/history"
	"github.com/JuanVilla424/mcpsetup/internal/install"
	"github.com/JuanVilla424/mcpsetup/internal/targets"
	"github.com/JuanVilla424/mcpsetup/internal/templates"
)

const (
	jobDiscover  = "discover"
	jobInstall   = "install"
	jobUninstall = "uninstall"
	jobVerify    = "verify"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// decodePost rejects anything but a POST with a JSON body that decodes
// into v. It writes the error response itself.
func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeErr(w, 405, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, 400, err.Error())
		return false
	}
	return true
}

type jobStarted struct {
	Job string `json:"job"`
	Gen uint64 `json:"gen"`
}

func (s *Server) startJob(w http.ResponseWriter, key string, fn func(ctx context.Context, emit func(tea.Msg)) (any, error)) {
	gen := s.mgr.Start(key, fn)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(jobStarted{Job: key, Gen: gen})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c := s.s.Catalog()
	if r.URL.Query().Get("reload") != "" {
		var err error
		if c, err = s.s.ReloadCatalog(); err != nil {
			writeErr(w, 500, err.Error())
			return
		}
	}
	writeJSON(w, map[string]any{
		"servers":  c.List(),
		"profiles": c.Profiles,
	})
}

type discoverRequest struct {
	// Mode is "local" or "refresh".
	Mode string `json:"mode"`
	// Add appends servers that are not yet in the catalog file.
	Add bool `json:"add"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !decodePost(w, r, &req) {
		return
	}
	s.startJob(w, jobDiscover, s.discoverJob(req))
}

// discoveryReport is discovery.Result with errors flattened for JSON.
type discoveryReport struct {
	Servers []catalog.ServerDescriptor `json:"servers"`
	Counts  map[string]int             `json:"counts"`
	Errors  map[string]string          `json:"errors,omitempty"`
	Skipped []string                   `json:"skipped,omitempty"`
	Added   []string                   `json:"added,omitempty"`
}

type discoveryBatch struct {
	Source  string `json:"source"`
	Servers int    `json:"servers"`
}

func (s *Server) discoverJob(req discoverRequest) func(ctx context.Context, emit func(tea.Msg)) (any, error) {
	mode := discovery.RefreshAll
	if req.Mode == "local" {
		mode = discovery.LocalOnly
	}
	return func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		res := s.s.Discover(ctx, mode, func(b discovery.Batch) {
			emit(discoveryBatch{Source: b.Source, Servers: len(b.Descriptors)})
		})
		rep := discoveryReport{Servers: res.Descriptors, Counts: res.Counts, Skipped: res.Skipped}
		for _, e := range res.Errors {
			if rep.Errors == nil {
				rep.Errors = make(map[string]string)
			}
			rep.Errors[e.Source] = e.Err.Error()
		}
		if req.Add && ctx.Err() == nil {
			var fresh []catalog.ServerDescriptor
			c := s.s.Catalog()
			for _, d := range res.Descriptors {
				if _, ok := c.Get(d.ID); !ok {
					fresh = append(fresh, d)
				}
			}
			added, err := s.s.AddToCatalog(ctx, fresh)
			rep.Added = added
			if err != nil {
				return rep, err
			}
		}
		return rep, ctx.Err()
	}
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs     []string `json:"ids"`
		Profile string   `json:"profile"`
		Targets []string `json:"targets"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 && req.Profile == "" {
		writeErr(w, 400, "ids or profile required")
		return
	}
	if s.mgr.IsRunning(jobInstall) {
		writeErr(w, http.StatusConflict, "an install is already running")
		return
	}
	descs, err := s.s.Resolve(req.IDs, req.Profile)
	if err != nil {
		writeErr(w, 400, err.Error())
		return
	}
	tgts, err := s.s.SelectTargets(req.Targets)
	if err != nil {
		writeErr(w, 400, err.Error())
		return
	}
	s.startJob(w, jobInstall, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		reps := s.s.InstallMany(ctx, descs, tgts, func(p install.Progress) { emit(p) })
		var failed []error
		for _, rep := range reps {
			if !rep.Attempt.Succeeded() {
				failed = append(failed, errors.New(rep.Attempt.Descriptor.ID+": "+rep.Attempt.Detail))
			}
		}
		return reps, errors.Join(failed...)
	})
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeErr(w, 400, "id required")
		return
	}
	s.startJob(w, jobUninstall, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		rep := s.s.Uninstall(ctx, req.ID)
		return rep, rep.Err
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID  string `json:"id"`
		All bool   `json:"all"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.ID == "" && !req.All {
		writeErr(w, 400, "id or all required")
		return
	}
	s.startJob(w, jobVerify, func(ctx context.Context, emit func(tea.Msg)) (any, error) {
		if req.All {
			return s.s.VerifyAll(ctx)
		}
		rep := s.s.Verify(ctx, req.ID)
		return rep, rep.Err
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.s.SystemCheck(r.Context()))
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Job string `json:"job"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	writeJSON(w, map[string]bool{"cancelled": s.mgr.Cancel(req.Job)})
}

type targetView struct {
	targets.Target
	Installed bool             `json:"installed"`
	Enabled   bool             `json:"enabled"`
	Servers   []targets.Server `json:"servers,omitempty"`
	Error     string           `json:"error,omitempty"`
	Children  []targetView     `json:"children,omitempty"`
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	out := make([]targetView, 0, len(s.s.Targets))
	for _, t := range s.s.Targets {
		v := s.viewTarget(t)
		for _, ext := range t.All()[1:] {
			v.Children = append(v.Children, s.viewTarget(ext))
		}
		v.Extensions = nil
		out = append(out, v)
	}
	writeJSON(w, out)
}

func (s *Server) viewTarget(t targets.Target) targetView {
	v := targetView{Target: t, Installed: t.Installed(), Enabled: s.s.Config.TargetEnabled(t.ID)}
	if !v.Installed {
		return v
	}
	servers, err := s.s.Writer.ListServers(t)
	if err != nil {
		v.Error = err.Error()
	}
	v.Servers = servers
	return v
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, 400, "invalid limit")
			return
		}
		limit = n
	}
	var (
		entries []history.Entry
		err     error
	)
	if server := r.URL.Query().Get("server"); server != "" {
		entries, err = s.s.History.ForServer(r.Context(), server, limit)
	} else {
		entries, err = s.s.History.Recent(r.Context(), limit)
	}
	if err != nil {
		writeErr(w, 500, err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleDockerList(w http.ResponseWriter, r *http.Request) {
	list, err := s.s.Docker.List(r.Context())
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleDockerLogs(w http.ResponseWriter, r *http.Request) {
	server := r.URL.Query().Get("server")
	if server == "" {
		writeErr(w, 400, "server required")
		return
	}
	tail := 200
	if v := r.URL.Query().Get("tail"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tail = n
		}
	}
	out, err := s.s.Docker.Logs(r.Context(), server, tail)
	if err != nil {
		writeErr(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]string{"server": server, "logs": out})
}

func (s *Server) dockerAction(name string, fn func(ctx context.Context, server string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Server string `json:"server"`
		}
		if !decodePost(w, r, &req) {
			return
		}
		if req.Server == "" {
			writeErr(w, 400, "server required")
			return
		}
		err := fn(r.Context(), req.Server)
		outcome := "ok"
		if err != nil {
			outcome = "failure"
		}
		if _, herr := s.s.History.Record(r.Context(), history.Entry{
			Operation: history.OpContainer,
			Server:    req.Server,
			Detail:    name,
			Outcome:   outcome,
		}); herr != nil {
			s.logger.Warn("history write failed", "server", req.Server, "error", herr)
		}
		if err != nil {
			writeErr(w, 500, err.Error())
			return
		}
		s.logger.Info("container "+name, "server", req.Server)
		s.scheduleRefresh()
		writeJSON(w, map[string]bool{"ok": true})
	}
}

func (s *Server) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	list, err := s.s.Templates.List()
	if err != nil {
		writeErr(w, 500, err.Error())
		return
	}
	writeJSON(w, list)
}

func (s *Server) handleTemplateAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Content     string `json:"content"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if req.Name == "" || req.Content == "" {
		writeErr(w, 400, "name and content required")
		return
	}
	t, err := s.s.Templates.Add(req.Name, req.Description, req.Content)
	if err != nil {
		writeErr(w, 400, err.Error())
		return
	}
	writeJSON(w, t)
}

func (s *Server) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int `json:"id"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	if err := s.s.Templates.Delete(req.ID); err != nil {
		writeErr(w, 404, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// handleTemplateCreate fills a template and appends the server it
// describes to the catalog. The client sends PROMPT answers up front.
func (s *Server) handleTemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Template string            `json:"template"`
		Content  string            `json:"content"`
		Values   map[string]any    `json:"values"`
		Answers  map[string]string `json:"answers"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	f := &templates.Filler{Values: req.Values, LookupEnv: os.LookupEnv, Prompter: templates.MapPrompter(req.Answers)}
	var (
		d   catalog.ServerDescriptor
		err error
	)
	switch {
	case req.Content != "":
		d, err = s.s.CreateFromContent(r.Context(), []byte(req.Content), f)
	case req.Template != "":
		d, err = s.s.CreateFromTemplate(r.Context(), req.Template, f)
	default:
		writeErr(w, 400, "template or content required")
		return
	}
	if err != nil {
		writeErr(w, 400, err.Error())
		return
	}
	s.scheduleRefresh()
	writeJSON(w, d)
}
