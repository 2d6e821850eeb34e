// Package watcher polls a directory tree for content changes and runs a
// rebuild action whenever its fingerprint moves.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conneroisu/sitesmith/internal/build"
	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/fingerprint"
	"github.com/conneroisu/sitesmith/internal/logging"
)

// State is the lifecycle phase of a Watcher.
type State string

const (
	StateIdle       State = "idle"
	StateBaseline   State = "baseline"
	StatePolling    State = "polling"
	StateRebuilding State = "rebuilding"
	StateStopped    State = "stopped"
)

// Target binds a monitored root to the action that regenerates its outputs.
type Target struct {
	Name     string
	Root     string
	Action   build.Action
	Interval time.Duration
	// Required roots must exist at startup; optional ones are skipped.
	Required bool
}

// Event describes one rebuild attempt.
type Event struct {
	Target      string
	Action      string
	Fingerprint fingerprint.Sum
	Duration    time.Duration
	Err         error
	At          time.Time
}

// Status is a point-in-time view of a Watcher.
type Status struct {
	Name        string    `json:"name"`
	Root        string    `json:"root"`
	State       State     `json:"state"`
	Rebuilds    int       `json:"rebuilds"`
	Failures    int       `json:"failures"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastRebuild time.Time `json:"last_rebuild,omitempty"`

	Cache *fingerprint.CacheStats `json:"cache,omitempty"`
}

// Handler receives rebuild events.
type Handler func(Event)

// Watcher runs the poll loop for a single Target.
type Watcher struct {
	target  Target
	scanner *fingerprint.Scanner
	logger  logging.Logger

	mutex    sync.RWMutex
	status   Status
	handlers []Handler
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithScanner replaces the default fingerprint scanner.
func WithScanner(s *fingerprint.Scanner) Option {
	return func(w *Watcher) {
		w.scanner = s
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// New creates a watcher for target. The root is not touched until Run.
func New(target Target, opts ...Option) (*Watcher, error) {
	switch {
	case target.Name == "":
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"watch target has no name", nil)
	case target.Root == "":
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"watch target has no root", nil).WithContext("target", target.Name)
	case target.Action == nil:
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"watch target has no action", nil).WithContext("target", target.Name)
	case target.Interval <= 0:
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"poll interval must be positive", nil).WithContext("target", target.Name)
	}

	w := &Watcher{
		target: target,
		logger: logging.NewNopLogger(),
		status: Status{
			Name:  target.Name,
			Root:  target.Root,
			State: StateIdle,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.scanner == nil {
		w.scanner = fingerprint.NewScanner(fingerprint.WithLogger(w.logger))
	}
	w.logger = w.logger.WithComponent("watcher").With("target", target.Name)

	return w, nil
}

// Target returns the watched target.
func (w *Watcher) Target() Target {
	return w.target
}

// OnRebuild registers a handler called after every rebuild attempt. Handlers
// run on the watcher goroutine and must not block.
func (w *Watcher) OnRebuild(h Handler) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.handlers = append(w.handlers, h)
}

// Status returns a snapshot of the watcher state.
func (w *Watcher) Status() Status {
	w.mutex.RLock()
	status := w.status
	w.mutex.RUnlock()

	if stats, ok := w.scanner.CacheStats(); ok {
		status.Cache = &stats
	}
	return status
}

// Run takes a baseline fingerprint and then polls until ctx is cancelled or
// the action fails with a non-recoverable error. Cancellation returns nil.
//
// Changes that happen within one interval collapse into a single rebuild. The
// stored fingerprint is updated before the action runs, so a failed rebuild
// is retried only after the tree changes again.
func (w *Watcher) Run(ctx context.Context) (err error) {
	defer func() {
		w.mutex.Lock()
		w.status.State = StateStopped
		if err != nil {
			w.status.LastError = err.Error()
		}
		w.mutex.Unlock()
		w.logger.Debug(ctx, "Watcher stopped")
	}()

	w.setState(StateBaseline)
	previous, err := w.scanner.Fingerprint(ctx, w.target.Root)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	w.setFingerprint(previous)
	w.setState(StatePolling)

	w.logger.Info(ctx, "Watching for changes",
		"root", w.target.Root,
		"interval", w.target.Interval.String(),
		"fingerprint", previous.String())

	timer := time.NewTimer(w.target.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		current, err := w.scanner.Fingerprint(ctx, w.target.Root)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			// The root may be mid-rename; keep the old fingerprint and retry.
			w.recordError(err)
			w.logger.Warn(ctx, err, "Fingerprint pass failed")
		case current != previous:
			w.logger.Debug(ctx, "Change detected",
				"previous", previous.String(),
				"current", current.String())
			previous = current
			w.setFingerprint(current)

			if err := w.rebuild(ctx, current); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if !siteerrors.IsRecoverable(err) {
					w.logger.Error(ctx, err, "Rebuild failed, stopping watcher")
					return err
				}
				w.logger.Warn(ctx, err, "Rebuild failed, still watching")
			}
		}

		timer.Reset(w.target.Interval)
	}
}

func (w *Watcher) rebuild(ctx context.Context, sum fingerprint.Sum) error {
	w.setState(StateRebuilding)
	defer w.setState(StatePolling)

	start := time.Now()
	err := w.execute(ctx)
	event := Event{
		Target:      w.target.Name,
		Action:      w.target.Action.Name(),
		Fingerprint: sum,
		Duration:    time.Since(start),
		Err:         err,
		At:          start,
	}

	w.mutex.Lock()
	w.status.Rebuilds++
	w.status.LastRebuild = start
	if err != nil {
		w.status.Failures++
		w.status.LastError = err.Error()
	} else {
		w.status.LastError = ""
	}
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mutex.Unlock()

	if err == nil {
		w.logger.Info(ctx, "Rebuilt",
			"action", event.Action,
			"duration_ms", event.Duration.Milliseconds())
	}
	for _, h := range handlers {
		h(event)
	}

	return err
}

// execute runs the action, turning a panic into a non-recoverable error.
func (w *Watcher) execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			err = siteerrors.NewInternalError(siteerrors.ErrCodeActionPanicked,
				fmt.Sprintf("action %s panicked", w.target.Action.Name()), cause)
		}
	}()

	return w.target.Action.Execute(ctx)
}

func (w *Watcher) setState(s State) {
	w.mutex.Lock()
	w.status.State = s
	w.mutex.Unlock()
}

func (w *Watcher) setFingerprint(sum fingerprint.Sum) {
	w.mutex.Lock()
	w.status.Fingerprint = sum.String()
	w.mutex.Unlock()
}

func (w *Watcher) recordError(err error) {
	w.mutex.Lock()
	w.status.LastError = err.Error()
	w.mutex.Unlock()
}
