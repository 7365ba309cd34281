// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JuanVilla424/mcpsetup/internal/shell"
)

// Response is returned for commands whose string form starts with Prefix.
type Response struct {
	Prefix string
	Output string
	Err    error
	// Hook runs before the response is returned, e.g. to flip state.
	Hook func(shell.Command)
}

type Fake struct {
	mu        sync.Mutex
	responses []Response
	missing   map[string]bool
	calls     []shell.Command
}

func New() *Fake {
	return &Fake{missing: make(map[string]bool)}
}

// On registers a response. Later registrations win over earlier ones.
func (f *Fake) On(prefix, output string, err error) *Fake {
	return f.OnHook(prefix, output, err, nil)
}

func (f *Fake) OnHook(prefix, output string, err error, hook func(shell.Command)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, Response{Prefix: prefix, Output: output, Err: err, Hook: hook})
	return f
}

// Missing marks an executable as absent from PATH.
func (f *Fake) Missing(names ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.missing[n] = true
	}
	return f
}

// Present clears a Missing mark.
func (f *Fake) Present(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		delete(f.missing, n)
	}
}

func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("%w: %s", shell.ErrNotFound, name)
	}
	return "/usr/bin/" + name, nil
}

func (f *Fake) Run(ctx context.Context, c shell.Command) (shell.Result, error) {
	if _, err := f.LookPath(c.Name); err != nil {
		f.record(c)
		return shell.Result{ExitCode: -1}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	line := c.String()
	var match *Response
	for i := len(f.responses) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.responses[i].Prefix) {
			r := f.responses[i]
			match = &r
			break
		}
	}
	f.mu.Unlock()

	if match == nil {
		return shell.Result{}, nil
	}
	if match.Hook != nil {
		match.Hook(c)
	}
	res := shell.Result{Output: []byte(match.Output)}
	if match.Err != nil {
		res.ExitCode = 1
	}
	return res, match.Err
}

func (f *Fake) record(c shell.Command) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

// Calls returns the string form of every command run so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many calls started with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
