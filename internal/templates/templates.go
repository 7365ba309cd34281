package templates

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

type Template struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Builtin     bool      `json:"builtin,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type templateStore struct {
	NextID    int        `json:"next_id"`
	Templates []Template `json:"templates"`
}

// Store keeps user templates in one JSON file next to the config.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (templateStore, error) {
	store := templateStore{NextID: 1}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return store, err
	}
	err = json.Unmarshal(data, &store)
	return store, err
}

func (s *Store) save(store templateStore) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// List returns the built-in templates followed by the user's.
func (s *Store) List() ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.load()
	if err != nil {
		return nil, err
	}
	return append(Builtins(), store.Templates...), nil
}

// Get finds a template by name or numeric id.
func (s *Store) Get(ref string) (Template, error) {
	all, err := s.List()
	if err != nil {
		return Template{}, err
	}
	id, numErr := strconv.Atoi(ref)
	for _, t := range all {
		if t.Name == ref || (numErr == nil && !t.Builtin && t.ID == id) {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("template %q not found", ref)
}

// Add stores a template after checking that it parses.
func (s *Store) Add(name, description, content string) (Template, error) {
	if _, err := Parse([]byte(content)); err != nil {
		return Template{}, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	for _, b := range Builtins() {
		if b.Name == name {
			return Template{}, fmt.Errorf("template %q is built in", name)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.load()
	if err != nil {
		return Template{}, err
	}
	t := Template{
		ID:          store.NextID,
		Name:        name,
		Description: description,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	store.NextID++
	store.Templates = append(store.Templates, t)
	return t, s.save(store)
}

func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, err := s.load()
	if err != nil {
		return err
	}
	for i := range store.Templates {
		if store.Templates[i].ID == id {
			store.Templates = append(store.Templates[:i], store.Templates[i+1:]...)
			return s.save(store)
		}
	}
	return fmt.Errorf("template #%d not found", id)
}

// Builtins are the starting points offered before the user saves any.
func Builtins() []Template {
	return []Template{
		{Name: "npm", Description: "Node package run with npx", Builtin: true, Content: npmTemplate},
		{Name: "python", Description: "PyPI package run with uvx", Builtin: true, Content: pythonTemplate},
		{Name: "docker", Description: "Container image run per session", Builtin: true, Content: dockerTemplate},
		{Name: "git", Description: "Repository cloned and run from source", Builtin: true, Content: gitTemplate},
	}
}

const npmTemplate = `name: ${PROMPT:Server name}
description: ${DESCRIPTION:Custom npm server}
kind: npm
spec:
  package: ${PROMPT:npm package}
  args: []
`

const pythonTemplate = `name: ${PROMPT:Server name}
description: ${DESCRIPTION:Custom python server}
kind: python
spec:
  package: ${PROMPT:PyPI package}
`

const dockerTemplate = `name: ${PROMPT:Server name}
description: ${DESCRIPTION:Custom docker server}
kind: docker
spec:
  image: ${PROMPT:Image reference}
  run_mode: interactive
  volumes:
    - "$${MCP_WORKSPACE_PATH:-./workspace}:/workspace"
`

const gitTemplate = `name: ${PROMPT:Server name}
description: ${DESCRIPTION:Custom server built from source}
kind: url
spec:
  repository: ${PROMPT:Repository URL}
  args: []
`
