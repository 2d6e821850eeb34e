package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/logging"
)

// Preprocessor selects the stylesheet preprocessing tool.
type Preprocessor string

const (
	PreprocessorNone Preprocessor = "none"
	PreprocessorSass Preprocessor = "sass"
	PreprocessorLess Preprocessor = "less"
)

// DefaultCompileTimeout bounds one preprocessor run.
const DefaultCompileTimeout = 30 * time.Second

// ParsePreprocessor converts a configuration value into a Preprocessor.
// The empty string means none.
func ParsePreprocessor(s string) (Preprocessor, error) {
	switch Preprocessor(strings.ToLower(strings.TrimSpace(s))) {
	case "", PreprocessorNone:
		return PreprocessorNone, nil
	case PreprocessorSass, "scss":
		return PreprocessorSass, nil
	case PreprocessorLess:
		return PreprocessorLess, nil
	default:
		return PreprocessorNone, fmt.Errorf("unsupported preprocessor %q (supported: sass, less, none)", s)
	}
}

// Executable is the command run for this preprocessor.
func (p Preprocessor) Executable() string {
	switch p {
	case PreprocessorSass:
		return "sass"
	case PreprocessorLess:
		return "lessc"
	default:
		return ""
	}
}

// SourceDir is the conventional source directory for this preprocessor.
func (p Preprocessor) SourceDir() string {
	switch p {
	case PreprocessorSass:
		return "sass"
	case PreprocessorLess:
		return "less"
	default:
		return ""
	}
}

// SourceExtensions lists the file extensions the preprocessor reads. Plain
// .css is included because both tools can import it.
func (p Preprocessor) SourceExtensions() []string {
	switch p {
	case PreprocessorSass:
		return []string{".scss", ".sass", ".css"}
	case PreprocessorLess:
		return []string{".less", ".css"}
	default:
		return nil
	}
}

// EntryFile is the conventional entry stylesheet for this preprocessor.
func (p Preprocessor) EntryFile() string {
	switch p {
	case PreprocessorSass:
		return "sass/main.scss"
	case PreprocessorLess:
		return "less/main.less"
	default:
		return ""
	}
}

// StyleConfig holds the parameters of a CompileStyles action.
type StyleConfig struct {
	Kind Preprocessor
	// Executable overrides Kind.Executable(), e.g. an absolute path.
	Executable string
	// Entry is passed as the only argument to the tool.
	Entry string
	// Output receives the tool's standard output verbatim.
	Output string
	// Timeout bounds the tool run; zero means DefaultCompileTimeout.
	Timeout time.Duration
	// Cascade runs after a compile, typically a RenderPages action.
	Cascade Action
	// CascadeOnFailure runs Cascade even when the compile failed.
	CascadeOnFailure bool
}

// StyleCompiler is the CompileStyles action.
type StyleCompiler struct {
	cfg    StyleConfig
	guard  *OutputGuard
	logger logging.Logger
}

// NewStyleCompiler creates a CompileStyles action.
func NewStyleCompiler(cfg StyleConfig, guard *OutputGuard, logger logging.Logger) (*StyleCompiler, error) {
	if cfg.Kind == PreprocessorNone || cfg.Kind == "" {
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"style compilation requires a preprocessor", nil)
	}
	if cfg.Executable == "" {
		cfg.Executable = cfg.Kind.Executable()
	}
	if cfg.Entry == "" || cfg.Output == "" {
		return nil, siteerrors.NewConfigurationError(siteerrors.ErrCodeConfigInvalid,
			"style compilation requires an entry and an output file", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCompileTimeout
	}
	if guard == nil {
		guard = NewOutputGuard()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &StyleCompiler{
		cfg:    cfg,
		guard:  guard,
		logger: logger.WithComponent("styles").With("tool", cfg.Executable),
	}, nil
}

// Name implements Action.
func (c *StyleCompiler) Name() string { return "compile_styles" }

// Execute compiles the entry stylesheet and then runs the cascade.
func (c *StyleCompiler) Execute(ctx context.Context) error {
	op := logging.StartOperation(c.logger, c.Name())

	compileErr := c.compile(ctx)
	if compileErr != nil {
		op.EndWithError(ctx, compileErr, "entry", c.cfg.Entry)
		if c.cfg.Cascade == nil || !c.cfg.CascadeOnFailure {
			return compileErr
		}
		c.logger.Info(ctx, "Running cascade despite failed compile", "cascade", c.cfg.Cascade.Name())
	} else {
		op.End(ctx, "entry", c.cfg.Entry, "output", c.cfg.Output)
	}

	if c.cfg.Cascade == nil {
		return nil
	}

	cascadeErr := c.cfg.Cascade.Execute(ctx)
	switch {
	case cascadeErr != nil && !siteerrors.IsRecoverable(cascadeErr):
		return cascadeErr
	case compileErr != nil:
		return compileErr
	default:
		return cascadeErr
	}
}

func (c *StyleCompiler) compile(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.cfg.Executable, c.cfg.Entry)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not hold Wait open past the kill.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		return c.toolError(runCtx, err, stderr.String())
	}

	unlock := c.guard.Lock(c.cfg.Output)
	defer unlock()

	if _, err := writeFileAtomic(c.cfg.Output, stdout.Bytes()); err != nil {
		return siteerrors.NewIOError(siteerrors.ErrCodeWriteFailed,
			"cannot write compiled stylesheet", err).WithPath(c.cfg.Output)
	}

	return nil
}

func (c *StyleCompiler) toolError(runCtx context.Context, err error, stderr string) error {
	tool := c.cfg.Executable

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return siteerrors.NewExternalToolError(siteerrors.ErrCodeToolMissing, tool,
			"preprocessor executable not found", err)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return siteerrors.NewExternalToolError(siteerrors.ErrCodeToolTimeout, tool,
			fmt.Sprintf("preprocessor did not finish within %s", c.cfg.Timeout), err)
	}

	se := siteerrors.NewExternalToolError(siteerrors.ErrCodeToolFailed, tool,
		"preprocessor failed", err).WithPath(c.cfg.Entry)
	if msg := strings.TrimSpace(stderr); msg != "" {
		se.WithContext("stderr", msg)
	}
	return se
}
