// Package tool locates and runs the external programs doing the actual image
// work (skopeo and umoci).
package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/syntax"
)

// ErrNotFound is returned by Lookup when a tool cannot be located.
var ErrNotFound = errors.New("tool not found")

type (
	// ExecCommandFunc creates the exec.Cmd for a tool invocation.
	// Tests replace it to avoid running the real binaries.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Option configures a Tool.
	Option func(*Tool)

	// Tool is a resolved external program.
	Tool struct {
		name        string
		path        string
		execCommand ExecCommandFunc
		logger      *log.Logger
		stdout      io.Writer
		stderr      io.Writer
	}

	// ExitError reports a tool that ran but exited non-zero.
	ExitError struct {
		Tool string
		Code int
		Err  error
	}
)

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Lookup resolves the path of the named tool. A non-empty override (usually
// from the environment) takes precedence over searching PATH.
func Lookup(name, override string) (string, error) {
	file := name
	if override != "" {
		file = override
	}

	p, err := exec.LookPath(file)
	if err != nil {
		return "", fmt.Errorf("missing %s tool (set %s if not on PATH): %w: %w",
			name, strings.ToUpper(name), ErrNotFound, err)
	}
	return p, nil
}

// WithExecCommand overrides how commands are created.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(t *Tool) {
		t.execCommand = fn
	}
}

// WithLogger sets the logger used to echo command lines.
func WithLogger(logger *log.Logger) Option {
	return func(t *Tool) {
		t.logger = logger
	}
}

// WithOutput redirects the tool's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(t *Tool) {
		t.stdout = stdout
		t.stderr = stderr
	}
}

// New returns a Tool running the binary at path.
func New(name, path string, opts ...Option) *Tool {
	t := &Tool{
		name:        name,
		path:        path,
		execCommand: exec.CommandContext,
		logger:      log.Default(),
		stdout:      os.Stdout,
		stderr:      os.Stderr,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the tool name, e.g. "skopeo".
func (t *Tool) Name() string {
	return t.name
}

// Path returns the resolved binary path.
func (t *Tool) Path() string {
	return t.path
}

// Run executes the tool with args and waits for it to finish.
func (t *Tool) Run(ctx context.Context, args ...string) error {
	t.logger.Info("`" + CommandLine(t.path, args...) + "`")

	cmd := t.execCommand(ctx, t.path, args...)
	cmd.Stdout = t.stdout
	cmd.Stderr = t.stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", t.name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Tool: t.name, Code: exitErr.ExitCode(), Err: err}
	}
	return fmt.Errorf("run %s: %w", t.name, err)
}

// CommandLine renders name and args as a shell-quoted command line. It is
// only used for display; commands are never run through a shell.
func CommandLine(name string, args ...string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{name}, args...) {
		words = append(words, quote(w))
	}
	return strings.Join(words, " ")
}

func quote(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return strconv.Quote(s)
	}
	return q
}
