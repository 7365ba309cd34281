package targets

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-hclog"

	"github.com/JuanVilla424/mcpsetup/internal/jsontree"
	"github.com/JuanVilla424/mcpsetup/internal/metrics"
)

var (
	// ErrConfigParse means an existing config file could not be parsed.
	ErrConfigParse = errors.New("config parse failed")
	// ErrConfigWrite means the config file could not be written.
	ErrConfigWrite = errors.New("config write failed")
)

// ParsePolicy decides what happens when an existing file is malformed.
type ParsePolicy string

const (
	// PolicyReset warns and starts from an empty document. The next save
	// replaces the malformed file.
	PolicyReset ParsePolicy = "reset"
	// PolicyAbort warns and fails without touching the file.
	PolicyAbort ParsePolicy = "abort"
)

// Entry is the launch command stored under a server id.
type Entry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
	Enabled bool              `json:"enabled"`
}

// Server is one entry read back from a target.
type Server struct {
	ID string `json:"id"`
	Entry
}

// Result is the outcome of one write in ApplyAll.
type Result struct {
	Target  string `json:"target"`
	Path    string `json:"path"`
	Warning string `json:"warning,omitempty"`
	Err     error  `json:"-"`
}

func (r Result) OK() bool { return r.Err == nil }

type Writer struct {
	policy ParsePolicy
	logger hclog.Logger
}

func NewWriter(policy ParsePolicy, logger hclog.Logger) *Writer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if policy != PolicyAbort {
		policy = PolicyReset
	}
	return &Writer{policy: policy, logger: logger.Named("targets")}
}

// ApplyServer inserts or replaces the entry for id under the target's key
// path. Sibling keys and other servers are left as they were.
func (w *Writer) ApplyServer(t Target, id string, e Entry) error {
	_, err := w.apply(t, id, e)
	return err
}

// ApplyAll writes the target and then each of its extensions. The writes
// are independent: a failure is recorded and the rest still run.
func (w *Writer) ApplyAll(t Target, id string, e Entry) []Result {
	all := t.All()
	results := make([]Result, 0, len(all))
	for _, sub := range all {
		warning, err := w.apply(sub, id, e)
		results = append(results, Result{Target: sub.ID, Path: sub.ConfigFile, Warning: warning, Err: err})
	}
	return results
}

func (w *Writer) apply(t Target, id string, e Entry) (string, error) {
	doc, warning, err := w.load(t)
	if err != nil {
		metrics.ConfigWrites.WithLabelValues(t.ID, "parse_error").Inc()
		return warning, err
	}
	if err := doc.SetAt(joinPath(t.KeyPath, id), entryNode(e)); err != nil {
		metrics.ConfigWrites.WithLabelValues(t.ID, "error").Inc()
		return warning, fmt.Errorf("%w: %s: %w", ErrConfigWrite, t.ConfigFile, err)
	}
	err = w.save(t, doc)
	metrics.ConfigWrites.WithLabelValues(t.ID, metrics.Result(err)).Inc()
	if err != nil {
		w.logger.Error("config write failed", "target", t.ID, "path", t.ConfigFile, "error", err)
		return warning, err
	}
	w.logger.Info("server configured", "target", t.ID, "server", id, "path", t.ConfigFile)
	return warning, nil
}

// RemoveServer deletes id from the target. It reports false when the entry
// was not there; the file is then left alone.
func (w *Writer) RemoveServer(t Target, id string) (bool, error) {
	if !fileExists(t.ConfigFile) {
		return false, nil
	}
	doc, _, err := w.load(t)
	if err != nil {
		return false, err
	}
	servers, ok := doc.Get(t.KeyPath)
	if !ok || !servers.DeleteField(id) {
		return false, nil
	}
	if err := w.save(t, doc); err != nil {
		return false, err
	}
	w.logger.Info("server removed", "target", t.ID, "server", id)
	return true, nil
}

// ListServers reads back every entry under the key path in document order.
// Entries that are not objects are skipped.
func (w *Writer) ListServers(t Target) ([]Server, error) {
	doc, err := w.Read(t)
	if err != nil {
		return nil, err
	}
	servers, ok := doc.Get(t.KeyPath)
	if !ok || !servers.IsObject() {
		return nil, nil
	}
	var out []Server
	for _, id := range servers.Keys() {
		n, _ := servers.Field(id)
		if !n.IsObject() {
			continue
		}
		s := Server{ID: id, Entry: Entry{Enabled: true}}
		if err := n.Decode(&s.Entry); err != nil {
			continue
		}
		// Cline and Roo mark entries with "disabled" instead.
		if dis, ok := n.Field("disabled"); ok {
			s.Enabled = !dis.BoolValue()
		}
		out = append(out, s)
	}
	return out, nil
}

// Read parses the target file. A missing or empty file is an empty
// document; a malformed one is an error regardless of policy.
func (w *Writer) Read(t Target) (*jsontree.Node, error) {
	data, err := os.ReadFile(t.ConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return jsontree.NewObject(), nil
		}
		return nil, err
	}
	doc, err := decode(t.Format, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigParse, t.ConfigFile, err)
	}
	return doc, nil
}

// load is Read with the parse policy applied.
func (w *Writer) load(t Target) (*jsontree.Node, string, error) {
	doc, err := w.Read(t)
	if err == nil {
		return doc, "", nil
	}
	if !errors.Is(err, ErrConfigParse) {
		return nil, "", fmt.Errorf("%w: reading %s: %w", ErrConfigWrite, t.ConfigFile, err)
	}
	if w.policy == PolicyAbort {
		warning := fmt.Sprintf("%s is not valid %s, leaving it untouched", t.ConfigFile, t.Format)
		w.logger.Warn("malformed config", "target", t.ID, "path", t.ConfigFile, "policy", string(w.policy), "error", err)
		return nil, warning, err
	}
	warning := fmt.Sprintf("%s is not valid %s, starting from an empty document", t.ConfigFile, t.Format)
	w.logger.Warn("malformed config", "target", t.ID, "path", t.ConfigFile, "policy", string(w.policy), "error", err)
	return jsontree.NewObject(), warning, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decode(format Format, data []byte) (*jsontree.Node, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return jsontree.NewObject(), nil
	}
	var (
		doc *jsontree.Node
		err error
	)
	if format == FormatTOML {
		var m map[string]any
		if err = toml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		doc, err = jsontree.FromValue(m)
	} else {
		doc, err = jsontree.Parse(data)
	}
	if err != nil {
		return nil, err
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("top level is %s, not an object", doc.Kind())
	}
	return doc, nil
}

func encode(format Format, doc *jsontree.Node) ([]byte, error) {
	if format == FormatTOML {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc.Value()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return doc.Indent()
}

// save writes doc through a temp file in the same directory and renames it
// over the target so a crash never leaves a half written config.
func (w *Writer) save(t Target, doc *jsontree.Node) error {
	data, err := encode(t.Format, doc)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrConfigWrite, t.ConfigFile, err)
	}
	if err := writeFileAtomic(t.ConfigFile, data); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(dir, ".mcpsetup-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func joinPath(keyPath, id string) []string {
	return append(jsontree.SplitPath(keyPath), id)
}

func entryNode(e Entry) *jsontree.Node {
	n := jsontree.NewObject()
	n.SetField("command", jsontree.NewString(e.Command))
	n.SetField("args", jsontree.StringArray(e.Args))
	if len(e.Env) > 0 {
		env, _ := jsontree.FromValue(e.Env)
		n.SetField("env", env)
	}
	n.SetField("enabled", jsontree.NewBool(true))
	return n
}
