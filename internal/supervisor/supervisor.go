// Package supervisor turns the effective configuration into watch targets
// and runs one ChangeWatcher per target.
//
// Targets:
//
//	styles    preprocessor source dir  CompileStyles, cascading into RenderPages
//	pages     paths.pages              RenderPages
//	includes  paths.includes           RenderPages
//
// pages and includes are required; styles is optional and only exists when a
// preprocessor is configured. Watchers run independently: a watcher that
// stops on a fatal error leaves its siblings running.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/sitesmith/internal/build"
	"github.com/conneroisu/sitesmith/internal/config"
	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/fingerprint"
	"github.com/conneroisu/sitesmith/internal/logging"
	"github.com/conneroisu/sitesmith/internal/watcher"
)

// Target names.
const (
	TargetStyles   = "styles"
	TargetPages    = "pages"
	TargetIncludes = "includes"
)

// Supervisor owns the watchers and their cancellation handles.
type Supervisor struct {
	cfg     *config.Config
	logger  logging.Logger
	guard   *build.OutputGuard
	metrics *build.BuildMetrics

	render  *build.PageRenderer
	styles  *build.StyleCompiler
	targets []watcher.Target

	mutex    sync.RWMutex
	started  bool
	watchers map[string]*runningWatcher
	handlers []watcher.Handler
	wg       sync.WaitGroup
}

type runningWatcher struct {
	watcher *watcher.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// New builds the actions and targets described by cfg. Nothing touches the
// filesystem until Start or Build.
func New(cfg *config.Config, opts ...Option) (*Supervisor, error) {
	if cfg == nil {
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"supervisor needs a configuration", nil)
	}

	s := &Supervisor{
		cfg:      cfg,
		logger:   logging.NewNopLogger(),
		guard:    build.NewOutputGuard(),
		metrics:  build.NewBuildMetrics(),
		watchers: make(map[string]*runningWatcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("supervisor")

	kind := cfg.Preprocessor()

	renderCfg := build.RenderConfig{
		SourceRoot:     cfg.Paths.Pages,
		OutputRoot:     cfg.Paths.Output,
		Fragments:      cfg.Fragments(),
		HighlightStyle: cfg.Render.HighlightStyle,
		Archive:        cfg.Render.Archive,
	}
	if cfg.Render.InlineStyles && kind != build.PreprocessorNone {
		renderCfg.InlineStyles = []string{cfg.Styles.Output}
	}
	s.render = build.NewPageRenderer(renderCfg, s.guard, s.logger)

	if kind != build.PreprocessorNone {
		styles, err := build.NewStyleCompiler(build.StyleConfig{
			Kind:             kind,
			Executable:       cfg.Styles.Executable,
			Entry:            cfg.Styles.Entry,
			Output:           cfg.Styles.Output,
			Timeout:          cfg.Styles.Timeout,
			Cascade:          s.render,
			CascadeOnFailure: cfg.Styles.CascadeOnFailure,
		}, s.guard, s.logger)
		if err != nil {
			return nil, err
		}
		s.styles = styles
		s.targets = append(s.targets, watcher.Target{
			Name:     TargetStyles,
			Root:     cfg.Styles.Root,
			Action:   styles,
			Interval: cfg.Watch.Interval,
			Required: false,
		})
	}

	s.targets = append(s.targets,
		watcher.Target{
			Name:     TargetPages,
			Root:     cfg.Paths.Pages,
			Action:   s.render,
			Interval: cfg.Watch.Interval,
			Required: true,
		},
		watcher.Target{
			Name:     TargetIncludes,
			Root:     cfg.Paths.Includes,
			Action:   s.render,
			Interval: cfg.Watch.Interval,
			Required: true,
		},
	)

	return s, nil
}

// Targets returns the configured watch targets.
func (s *Supervisor) Targets() []watcher.Target {
	targets := make([]watcher.Target, len(s.targets))
	copy(targets, s.targets)
	return targets
}

// Metrics returns the rebuild metrics shared by all watchers.
func (s *Supervisor) Metrics() *build.BuildMetrics {
	return s.metrics
}

// OnRebuild registers a handler for rebuild events from every watcher.
func (s *Supervisor) OnRebuild(h watcher.Handler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.handlers = append(s.handlers, h)
}

// Build compiles the styles (when their source directory exists) and renders
// every page once. A recoverable compile failure still renders the pages and
// is returned after the render succeeds.
func (s *Supervisor) Build(ctx context.Context) error {
	op := logging.StartOperation(s.logger, "build")

	var stylesErr error
	if s.styles != nil {
		if err := fingerprint.CheckRoot(s.cfg.Styles.Root); err != nil {
			s.logger.Warn(ctx, err, "Styles source missing, skipping compile")
		} else {
			stylesErr = s.run(ctx, TargetStyles, s.styles)
			switch {
			case stylesErr == nil:
				// The cascade already rendered the pages.
				op.End(ctx)
				return nil
			case !siteerrors.IsRecoverable(stylesErr):
				op.EndWithError(ctx, stylesErr)
				return stylesErr
			case s.cfg.Styles.CascadeOnFailure:
				op.EndWithError(ctx, stylesErr)
				return stylesErr
			}
		}
	}

	if err := s.run(ctx, TargetPages, s.render); err != nil {
		op.EndWithError(ctx, err)
		return err
	}
	if stylesErr != nil {
		op.EndWithError(ctx, stylesErr)
		return stylesErr
	}

	op.End(ctx)
	return nil
}

// run executes an action outside the watch loop and reports it like a
// rebuild.
func (s *Supervisor) run(ctx context.Context, target string, action build.Action) error {
	start := time.Now()
	err := action.Execute(ctx)
	s.dispatch(watcher.Event{
		Target:   target,
		Action:   action.Name(),
		Duration: time.Since(start),
		Err:      err,
		At:       start,
	})
	return err
}

// Start verifies the roots, runs the initial build when configured and
// launches the watchers. A missing required root fails before any watcher
// starts; a missing optional root is logged and its target skipped.
//
// Watchers run until ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.started {
		s.mutex.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	s.mutex.Unlock()

	var launch []watcher.Target
	for _, target := range s.targets {
		if err := fingerprint.CheckRoot(target.Root); err != nil {
			if target.Required {
				s.logger.Fatal(ctx, err, "Required watch root unavailable", "target", target.Name)
				return err
			}
			s.logger.Warn(ctx, err, "Optional watch root unavailable, not watching", "target", target.Name)
			continue
		}
		launch = append(launch, target)
	}

	if s.cfg.Watch.InitialBuild {
		if err := s.Build(ctx); err != nil {
			if !siteerrors.IsRecoverable(err) {
				return fmt.Errorf("initial build: %w", err)
			}
			s.logger.Warn(ctx, err, "Initial build failed, watching anyway")
		}
	}

	watchers := make([]*runningWatcher, 0, len(launch))
	for _, target := range launch {
		scannerOpts := []fingerprint.Option{fingerprint.WithLogger(s.logger)}
		if target.Name == TargetStyles {
			// Compiled output or editor notes beside the sources are not inputs.
			exts := s.cfg.Preprocessor().SourceExtensions()
			scannerOpts = append(scannerOpts, fingerprint.WithFilter(fingerprint.ExtensionFilter(exts...)))
		}
		if s.cfg.Watch.MetadataCache {
			scannerOpts = append(scannerOpts, fingerprint.WithMetadataCache(fingerprint.NewMetadataCache()))
		}

		w, err := watcher.New(target,
			watcher.WithScanner(fingerprint.NewScanner(scannerOpts...)),
			watcher.WithLogger(s.logger),
		)
		if err != nil {
			return err
		}
		w.OnRebuild(s.dispatch)
		watchers = append(watchers, &runningWatcher{watcher: w, done: make(chan struct{})})
	}

	s.mutex.Lock()
	for _, rw := range watchers {
		wctx, cancel := context.WithCancel(ctx)
		rw.cancel = cancel
		s.watchers[rw.watcher.Target().Name] = rw

		s.wg.Add(1)
		go s.runWatcher(wctx, rw)
	}
	s.mutex.Unlock()

	s.logger.Info(ctx, "Watchers started", "count", len(watchers))
	return nil
}

func (s *Supervisor) runWatcher(ctx context.Context, rw *runningWatcher) {
	defer s.wg.Done()
	defer close(rw.done)
	defer rw.cancel()

	err := rw.watcher.Run(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Watcher stopped", "target", rw.watcher.Target().Name)
	}

	s.mutex.Lock()
	rw.err = err
	s.mutex.Unlock()
}

func (s *Supervisor) dispatch(e watcher.Event) {
	s.metrics.RecordBuild(build.BuildResult{
		Target:   e.Target,
		Action:   e.Action,
		Duration: e.Duration,
		Error:    e.Err,
		At:       e.At,
	})

	s.mutex.RLock()
	handlers := make([]watcher.Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mutex.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// stopWatcher cancels a single watcher and waits for it to exit. It reports
// whether a watcher with that name was launched.
func (s *Supervisor) stopWatcher(name string) bool {
	s.mutex.RLock()
	rw, ok := s.watchers[name]
	s.mutex.RUnlock()
	if !ok {
		return false
	}

	rw.cancel()
	<-rw.done
	return true
}

// Stop cancels every watcher and waits for all of them to exit.
func (s *Supervisor) Stop() error {
	s.mutex.RLock()
	names := make([]string, 0, len(s.watchers))
	for name := range s.watchers {
		names = append(names, name)
	}
	s.mutex.RUnlock()

	for _, name := range names {
		s.stopWatcher(name)
	}
	return s.Wait()
}

// Wait blocks until every watcher has exited and returns the fatal errors
// that stopped any of them.
func (s *Supervisor) Wait() error {
	s.wg.Wait()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.watchers))
	for name := range s.watchers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := s.watchers[name].err; err != nil {
			errs = append(errs, fmt.Errorf("%s watcher: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Statuses returns a snapshot of every launched watcher, ordered by name.
func (s *Supervisor) Statuses() []watcher.Status {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	statuses := make([]watcher.Status, 0, len(s.watchers))
	for _, rw := range s.watchers {
		statuses = append(statuses, rw.watcher.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}
