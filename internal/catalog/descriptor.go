package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

type Kind string

const (
	KindNPM    Kind = "npm"
	KindPython Kind = "python"
	KindDocker Kind = "docker"
	KindBinary Kind = "binary"
	KindURL    Kind = "url"
)

func (k Kind) Valid() bool {
	switch k {
	case KindNPM, KindPython, KindDocker, KindBinary, KindURL:
		return true
	}
	return false
}

type RunMode string

const (
	RunDaemon      RunMode = "daemon"
	RunInteractive RunMode = "interactive"
)

// InstallSpec is the kind-specific payload of a descriptor.
type InstallSpec struct {
	Package          string            `json:"package,omitempty" yaml:"package,omitempty"`
	Image            string            `json:"image,omitempty" yaml:"image,omitempty"`
	Repository       string            `json:"repository,omitempty" yaml:"repository,omitempty"`
	URL              string            `json:"url,omitempty" yaml:"url,omitempty"`
	Dockerfile       string            `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
	Command          string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args             []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	RequiredEnv      []string          `json:"required_env,omitempty" yaml:"required_env,omitempty"`
	Ports            []string          `json:"ports,omitempty" yaml:"ports,omitempty"`
	Volumes          []string          `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	RunMode          RunMode           `json:"run_mode,omitempty" yaml:"run_mode,omitempty"`
	ContainerCommand []string          `json:"container_command,omitempty" yaml:"container_command,omitempty"`
}

// Fallback is the secondary install route tried once when the primary fails.
type Fallback struct {
	Kind Kind        `json:"kind" yaml:"kind"`
	Spec InstallSpec `json:"spec" yaml:"spec"`
}

type ServerDescriptor struct {
	ID            string      `json:"id,omitempty" yaml:"id,omitempty"`
	Name          string      `json:"name" yaml:"name"`
	Description   string      `json:"description,omitempty" yaml:"description,omitempty"`
	Category      string      `json:"category,omitempty" yaml:"category,omitempty"`
	Tags          []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Source        string      `json:"source,omitempty" yaml:"source,omitempty"`
	Version       string      `json:"version,omitempty" yaml:"version,omitempty"`
	Stars         int         `json:"stars,omitempty" yaml:"stars,omitempty"`
	Kind          Kind        `json:"kind" yaml:"kind"`
	Spec          InstallSpec `json:"spec" yaml:"spec"`
	Fallback      *Fallback   `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Prerequisites []string    `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Targets       []string    `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// SupportsTarget reports whether the server may be wired into target id.
// An empty target list means every target.
func (d ServerDescriptor) SupportsTarget(id string) bool {
	if len(d.Targets) == 0 {
		return true
	}
	for _, t := range d.Targets {
		if t == id {
			return true
		}
	}
	return false
}

// FallbackDescriptor returns the descriptor rewritten onto its fallback
// route. The result never carries a fallback of its own.
func (d ServerDescriptor) FallbackDescriptor() (ServerDescriptor, bool) {
	if d.Fallback == nil || !d.Fallback.Kind.Valid() {
		return ServerDescriptor{}, false
	}
	fb := d
	fb.Kind = d.Fallback.Kind
	fb.Spec = d.Fallback.Spec
	fb.Fallback = nil
	fb.Prerequisites = DefaultPrerequisites(fb.Kind)
	return fb, true
}

func (d ServerDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor has no id")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("server %s: unknown kind %q", d.ID, d.Kind)
	}
	switch d.Kind {
	case KindNPM:
		if d.Spec.Package == "" {
			return fmt.Errorf("server %s: npm kind needs a package", d.ID)
		}
	case KindPython:
		if d.Spec.Package == "" && d.Spec.Repository == "" {
			return fmt.Errorf("server %s: python kind needs a package or repository", d.ID)
		}
	case KindDocker:
		if d.Spec.Image == "" && d.Spec.Dockerfile == "" {
			return fmt.Errorf("server %s: docker kind needs an image or dockerfile", d.ID)
		}
	case KindBinary:
		if d.Spec.URL == "" {
			return fmt.Errorf("server %s: binary kind needs a url", d.ID)
		}
	case KindURL:
		if d.Spec.Repository == "" && d.Spec.URL == "" {
			return fmt.Errorf("server %s: url kind needs a repository", d.ID)
		}
	}
	return nil
}

// MissingEnv lists required environment variables with no value in env or spec.
func (d ServerDescriptor) MissingEnv(lookup func(string) (string, bool)) []string {
	var missing []string
	for _, k := range d.Spec.RequiredEnv {
		if v := d.Spec.Env[k]; v != "" {
			continue
		}
		if lookup != nil {
			if v, ok := lookup(k); ok && v != "" {
				continue
			}
		}
		missing = append(missing, k)
	}
	return missing
}

// DefaultPrerequisites are the tools each kind needs when a descriptor does
// not list its own.
func DefaultPrerequisites(k Kind) []string {
	switch k {
	case KindNPM:
		return []string{"node", "npm"}
	case KindPython:
		return []string{"python"}
	case KindDocker:
		return []string{"docker"}
	case KindURL:
		return []string{"git"}
	}
	return nil
}

var idJunk = regexp.MustCompile(`[^a-z0-9._-]+`)

// NormalizeID maps a package, repository or registry name onto the catalog
// key space so the same server found by different sources collides.
func NormalizeID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndex(id, "/"); i >= 0 && !strings.HasPrefix(id, "@modelcontextprotocol/") {
		id = id[i+1:]
	}
	for _, prefix := range []string{"@modelcontextprotocol/server-", "mcp-server-", "server-", "mcp-"} {
		if strings.HasPrefix(id, prefix) && len(id) > len(prefix) {
			id = id[len(prefix):]
			break
		}
	}
	for _, suffix := range []string{"-mcp-server", "-mcp", "_mcp", "-server"} {
		if strings.HasSuffix(id, suffix) && len(id) > len(suffix) {
			id = id[:len(id)-len(suffix)]
			break
		}
	}
	id = strings.ReplaceAll(id, " ", "-")
	id = idJunk.ReplaceAllString(id, "")
	return strings.Trim(id, "-._")
}
