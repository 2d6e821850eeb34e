// Package build implements the rebuild actions run by watchers: rendering
// markdown pages into the output tree and compiling the site stylesheet with
// an external preprocessor.
//
// Actions keep no state between invocations. Writes to shared outputs go
// through an OutputGuard so that a cascading render triggered by a style
// compile never interleaves with a render triggered by a pages change.
package build

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// Action is a unit of rebuild work bound to a watch target.
type Action interface {
	Name() string
	Execute(ctx context.Context) error
}

type funcAction struct {
	name string
	fn   func(ctx context.Context) error
}

func (a *funcAction) Name() string                      { return a.name }
func (a *funcAction) Execute(ctx context.Context) error { return a.fn(ctx) }

// ActionFunc adapts a function to the Action interface.
func ActionFunc(name string, fn func(ctx context.Context) error) Action {
	return &funcAction{name: name, fn: fn}
}

// OutputGuard hands out one mutex per output location.
type OutputGuard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOutputGuard creates an empty guard.
func NewOutputGuard() *OutputGuard {
	return &OutputGuard{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires exclusive access to path and returns the release function.
func (g *OutputGuard) Lock(path string) func() {
	m := g.mutexFor(path)
	m.Lock()
	return m.Unlock
}

func (g *OutputGuard) mutexFor(path string) *sync.Mutex {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.locks[key]
	if !ok {
		m = &sync.Mutex{}
		g.locks[key] = m
	}
	return m
}

// writeFileAtomic replaces path with data, skipping the write when the file
// already holds exactly data. It reports whether the file changed.
func writeFileAtomic(path string, data []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && string(existing) == string(data) {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return false, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return false, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return false, err
	}

	return true, nil
}
