// Package catalog loads the local server catalog and owns the descriptor
// model shared by discovery, installation and the config writers.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JuanVilla424/mcpsetup/internal/jsontree"
)

//go:embed default_catalog.json
var defaultCatalog []byte

type Category struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Profile struct {
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Servers     []string `json:"servers" yaml:"servers"`
}

type Catalog struct {
	Servers    map[string]ServerDescriptor `json:"servers" yaml:"servers"`
	Categories map[string]Category         `json:"categories,omitempty" yaml:"categories,omitempty"`
	Profiles   map[string]Profile          `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

// Default returns the catalog shipped with the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog, ".json")
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// DefaultBytes is the raw embedded catalog document.
func DefaultBytes() []byte {
	return append([]byte(nil), defaultCatalog...)
}

func isYAML(path string) bool {
	return yamlExt(filepath.Ext(path))
}

func yamlExt(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == ".yaml" || ext == ".yml"
}

// Parse decodes a catalog document. ext selects YAML for ".yaml"/".yml".
func Parse(data []byte, ext string) (*Catalog, error) {
	var c Catalog
	var err error
	if yamlExt(ext) {
		err = yaml.Unmarshal(data, &c)
	} else {
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if c.Servers == nil {
		c.Servers = make(map[string]ServerDescriptor)
	}
	for id, d := range c.Servers {
		d.ID = id
		if d.Source == "" {
			d.Source = "local"
		}
		if d.Name == "" {
			d.Name = id
		}
		if len(d.Prerequisites) == 0 {
			d.Prerequisites = DefaultPrerequisites(d.Kind)
		}
		c.Servers[id] = d
	}
	return &c, nil
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Ext(path))
}

// EnsureFile writes the embedded catalog to path when nothing is there yet.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data := defaultCatalog
	if isYAML(path) {
		var c Catalog
		if err := json.Unmarshal(defaultCatalog, &c); err != nil {
			return err
		}
		out, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		data = out
	}
	return os.WriteFile(path, data, 0644)
}

// List returns every descriptor sorted by id.
func (c *Catalog) List() []ServerDescriptor {
	out := make([]ServerDescriptor, 0, len(c.Servers))
	for _, d := range c.Servers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Get(id string) (ServerDescriptor, bool) {
	d, ok := c.Servers[id]
	return d, ok
}

// Profile resolves a named server set.
func (c *Catalog) Profile(name string) ([]ServerDescriptor, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	var out []ServerDescriptor
	for _, id := range p.Servers {
		d, ok := c.Servers[id]
		if !ok {
			return nil, fmt.Errorf("profile %q references unknown server %q", name, id)
		}
		out = append(out, d)
	}
	return out, nil
}

// ProfileNames returns profile names sorted.
func (c *Catalog) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for n := range c.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AppendDiscovered adds descriptors whose id is not yet in the catalog file
// and returns the ids that were added. Existing entries are never modified.
// JSON catalogs are edited through the ordered tree so the user's layout
// survives.
func AppendDiscovered(path string, descs []ServerDescriptor) ([]string, error) {
	if err := EnsureFile(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isYAML(path) {
		return appendYAML(path, data, descs)
	}

	doc, err := jsontree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	servers, err := doc.Ensure("servers")
	if err != nil {
		return nil, err
	}
	var added []string
	for _, d := range descs {
		if d.ID == "" {
			continue
		}
		if _, exists := servers.Field(d.ID); exists {
			continue
		}
		entry := d
		entry.ID = ""
		n, err := jsontree.FromValue(entry)
		if err != nil {
			return added, err
		}
		servers.SetField(d.ID, n)
		added = append(added, d.ID)
	}
	if len(added) == 0 {
		return nil, nil
	}
	out, err := doc.Indent()
	if err != nil {
		return nil, err
	}
	return added, writeFileAtomic(path, out)
}

// appendYAML edits the YAML node tree so comments and untouched entries
// are written back as they were.
func appendYAML(path string, data []byte, descs []ServerDescriptor) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing catalog: top level is not a mapping")
	}
	root := doc.Content[0]
	servers := mappingValue(root, "servers")
	switch {
	case servers == nil:
		servers = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "servers"}, servers)
	case servers.Kind == yaml.ScalarNode && servers.Tag == "!!null":
		*servers = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	case servers.Kind != yaml.MappingNode:
		return nil, fmt.Errorf("parsing catalog: servers is not a mapping")
	}

	var added []string
	for _, d := range descs {
		if d.ID == "" || mappingValue(servers, d.ID) != nil {
			continue
		}
		entry := d
		entry.ID = ""
		var n yaml.Node
		if err := n.Encode(entry); err != nil {
			return added, err
		}
		servers.Content = append(servers.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.ID}, &n)
		added = append(added, d.ID)
	}
	if len(added) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return added, writeFileAtomic(path, buf.Bytes())
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".catalog-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
