package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"gopkg.in/yaml.v3"
)

// Clicks is the body of the /count endpoints.
type Clicks struct {
	Count int64 `json:"count" yaml:"count"`
}

// CounterStore persists the click counter in a small YAML file.
type CounterStore struct {
	path  string
	mutex sync.Mutex
	count int64
}

// OpenCounterStore loads the counter from path. A missing file starts the
// count at zero; the file is created on the first increment.
func OpenCounterStore(path string) (*CounterStore, error) {
	store := &CounterStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return store, nil
	case err != nil:
		return nil, siteerrors.NewIOError(siteerrors.ErrCodeUnreadableFile,
			"cannot read click counter", err).WithPath(path)
	}

	var clicks Clicks
	if err := yaml.Unmarshal(data, &clicks); err != nil {
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"click counter file is corrupt", err).WithPath(path)
	}
	if clicks.Count < 0 {
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("click counter is negative: %d", clicks.Count), nil).WithPath(path)
	}
	store.count = clicks.Count

	return store, nil
}

// Get returns the current count.
func (c *CounterStore) Get() Clicks {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Clicks{Count: c.count}
}

// Increment adds one click and persists it before returning the new count.
// On a write failure the in-memory count is left unchanged.
func (c *CounterStore) Increment() (Clicks, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	next := Clicks{Count: c.count + 1}
	if err := c.save(next); err != nil {
		return Clicks{Count: c.count}, err
	}
	c.count = next.Count

	return next, nil
}

func (c *CounterStore) save(clicks Clicks) error {
	data, err := yaml.Marshal(clicks)
	if err != nil {
		return siteerrors.NewInternalError(siteerrors.ErrCodeWriteFailed, "cannot encode click counter", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot create click counter directory", err).WithPath(dir)
	}

	tmp, err := os.CreateTemp(dir, ".clicks-*")
	if err != nil {
		return siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot write click counter", err).WithPath(c.path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot write click counter", err).WithPath(c.path)
	}
	if err := tmp.Close(); err != nil {
		return siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot write click counter", err).WithPath(c.path)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot replace click counter", err).WithPath(c.path)
	}

	return nil
}
