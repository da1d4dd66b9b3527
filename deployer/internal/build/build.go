// Package build runs the application's build command and reports the outcome
// without ever failing the deployment.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	DefaultCommand   = "npx --yes open-next@2 build"
	DefaultOutputDir = ".open-next"

	maxOutput = 8 << 10
)

// Status of a build run.
type Status string

const (
	Succeeded      Status = "succeeded"
	Skipped        Status = "skipped"
	FailedNonFatal Status = "failed-non-fatal"
)

// Outcome is what the deployment learns from the build. Err is set only when
// Status is FailedNonFatal.
type Outcome struct {
	Status    Status        `json:"status"`
	Command   string        `json:"command,omitempty"`
	OutputDir string        `json:"outputDir"`
	Duration  time.Duration `json:"duration"`
	Output    string        `json:"output,omitempty"`
	Err       error         `json:"-"`
}

func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

var ErrMissingOutput = errors.New("build output directory missing")

type Config struct {
	Shell     string
	OutputDir string
	Env       map[string]string
	Logger    hclog.Logger
}

type Runner struct {
	shell     string
	outputDir string
	env       map[string]string
	logger    hclog.Logger
}

func NewRunner(cfg Config) *Runner {
	shell := cfg.Shell
	if shell == "" {
		shell = "sh"
	}
	out := cfg.OutputDir
	if out == "" {
		out = DefaultOutputDir
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Runner{shell: shell, outputDir: out, env: cfg.Env, logger: logger.Named("build")}
}

// OutputPath resolves the output root for a source directory.
func (r *Runner) OutputPath(dir string) string {
	if filepath.IsAbs(r.outputDir) {
		return r.outputDir
	}
	return filepath.Join(dir, r.outputDir)
}

// Run executes command through the shell in dir. An empty command skips the
// build. A non-zero exit or a missing output directory is reported as
// FailedNonFatal, never as an error.
func (r *Runner) Run(ctx context.Context, command, dir string) Outcome {
	out := Outcome{Command: command, OutputDir: r.OutputPath(dir)}
	if strings.TrimSpace(command) == "" {
		out.Status = Skipped
		r.logger.Info("build skipped", "dir", dir)
		return out
	}

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(r.env))
	for k := range r.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+r.env[k])
	}

	r.logger.Info("build starting", "command", command, "dir", dir)
	start := time.Now()
	err := cmd.Run()
	out.Duration = time.Since(start)
	out.Output = tail(buf.String(), maxOutput)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("build command exited with code %d", exitErr.ExitCode())
		} else {
			err = fmt.Errorf("build command: %w", err)
		}
		return r.fail(out, err)
	}
	info, statErr := os.Stat(out.OutputDir)
	if statErr != nil || !info.IsDir() {
		return r.fail(out, fmt.Errorf("%w: %s", ErrMissingOutput, out.OutputDir))
	}
	out.Status = Succeeded
	r.logger.Info("build finished", "duration", out.Duration)
	return out
}

func (r *Runner) fail(out Outcome, err error) Outcome {
	out.Status = FailedNonFatal
	out.Err = err
	r.logger.Warn("build failed, continuing with existing output", "error", err, "duration", out.Duration)
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
