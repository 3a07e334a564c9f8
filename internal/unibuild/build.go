package unibuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingPrerequisite is returned when the host protoc binary is absent.
// It is checked before any configure step runs.
var ErrMissingPrerequisite = errors.New("missing prerequisite")

// StepError identifies which external step failed for which target. The
// wrapped error is the tool's own exit status; nothing is retried.
type StepError struct {
	Step   string // clean, configure, compile, install, merge
	Target string // architecture name, empty for the merge phase
	Err    error
}

func (e *StepError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s step failed for %s: %v", e.Step, e.Target, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RunState tracks the orchestrator lifecycle.
type RunState int

const (
	StateNotStarted RunState = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// ArtifactSet records, for one logical library, the per-architecture
// slices that went into the merge and the universal output produced.
type ArtifactSet struct {
	Library string
	Slices  []string
	Merged  string
}

// Orchestrator drives the whole pipeline: per-architecture
// clean/configure/compile/install in list order, then one merge per
// logical library. Any failing step aborts the run; partial outputs are
// left on disk untrusted.
type Orchestrator struct {
	cfg       *Config
	runner    Runner
	toolchain Toolchain
	logWriter io.Writer // optional, defaults to stdout
	targets   []Target
	state     RunState
}

func NewOrchestrator(cfg *Config, runner Runner, tc Toolchain) (*Orchestrator, error) {
	targets, err := ResolveTargets(cfg.Archs)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:       cfg,
		runner:    runner,
		toolchain: tc,
		targets:   targets,
	}, nil
}

// SetLogWriter redirects step output, e.g. into a build log file.
func (o *Orchestrator) SetLogWriter(w io.Writer) { o.logWriter = w }

// State reports the current lifecycle state.
func (o *Orchestrator) State() RunState { return o.state }

// Targets returns the resolved build order.
func (o *Orchestrator) Targets() []Target { return o.targets }

func (o *Orchestrator) transition(to RunState) {
	debugf("orchestrator %s -> %s\n", o.state, to)
	o.state = to
}

// Run executes the full pipeline. It may be called once per Orchestrator.
func (o *Orchestrator) Run(ctx context.Context) ([]ArtifactSet, error) {
	if o.state != StateNotStarted {
		return nil, fmt.Errorf("orchestrator already ran (state %s)", o.state)
	}
	o.transition(StateRunning)

	artifacts, err := o.run(ctx)
	if err != nil {
		o.transition(StateFailed)
		return nil, err
	}
	o.transition(StateSucceeded)
	return artifacts, nil
}

func (o *Orchestrator) run(ctx context.Context) ([]ArtifactSet, error) {
	// The host code-generator must exist before anything is configured.
	if _, err := os.Stat(o.cfg.ProtocPath); err != nil {
		return nil, fmt.Errorf("%w: host protoc binary not found at %s (build the host library first)",
			ErrMissingPrerequisite, o.cfg.ProtocPath)
	}

	start := time.Now()
	for i, t := range o.targets {
		cPrintf(colSuccess, o.logWriter, "Building %s (%d/%d)\n", t.Name, i+1, len(o.targets))
		if err := o.buildTarget(ctx, t); err != nil {
			return nil, err
		}
	}

	artifacts, err := o.mergeAll(ctx)
	if err != nil {
		return nil, err
	}

	cPrintf(colSuccess, o.logWriter, "Built %d architecture(s) in %s\n",
		len(o.targets), time.Since(start).Round(time.Second))
	return artifacts, nil
}

// buildTarget runs the four external steps for one architecture, strictly
// in order, stopping at the first non-zero exit.
func (o *Orchestrator) buildTarget(ctx context.Context, t Target) error {
	sysroot, err := o.toolchain.SysrootPath(t.SDK)
	if err != nil {
		return &StepError{Step: "configure", Target: t.Name, Err: err}
	}

	buildDir := o.cfg.BuildDir(t.Name)
	prefix, err := filepath.Abs(t.InstallPrefix(o.cfg.OutputRoot))
	if err != nil {
		return &StepError{Step: "configure", Target: t.Name, Err: err}
	}

	// Clean is idempotent: removing a directory that never existed is fine.
	if o.cfg.CleanBuild {
		if err := os.RemoveAll(buildDir); err != nil {
			return &StepError{Step: "clean", Target: t.Name, Err: err}
		}
	}
	for _, dir := range []string{buildDir, prefix} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &StepError{Step: "clean", Target: t.Name, Err: err}
		}
	}

	env, err := o.buildEnv(t, sysroot)
	if err != nil {
		return &StepError{Step: "configure", Target: t.Name, Err: err}
	}

	configure := filepath.Join(o.cfg.SourceDir(), "configure")
	configureArgs := []string{
		"--host=" + t.Host,
		"--with-protoc=" + o.cfg.ProtocPath,
		"--disable-shared",
		"--prefix=" + prefix,
		"--exec-prefix=" + prefix,
	}
	steps := []struct {
		name string
		cmd  *exec.Cmd
	}{
		{"configure", exec.Command(configure, configureArgs...)},
		{"compile", exec.Command("make", fmt.Sprintf("-j%d", o.cfg.Jobs))},
		{"install", exec.Command("make", "install")},
	}
	for _, step := range steps {
		step.cmd.Dir = buildDir
		step.cmd.Env = env
		step.cmd.Stdout = o.logWriter
		step.cmd.Stderr = o.logWriter
		debugf("%s %s: %s\n", step.name, t.Name, strings.Join(step.cmd.Args, " "))
		if err := o.runner.Run(step.cmd); err != nil {
			return &StepError{Step: step.name, Target: t.Name, Err: err}
		}
	}
	return nil
}

// buildEnv composes the cross-compilation environment for one target. The
// ambient CFLAGS/CXXFLAGS/LDFLAGS are dropped so composed flags win.
func (o *Orchestrator) buildEnv(t Target, sysroot string) ([]string, error) {
	cc := o.cfg.Value("CC")
	if cc == "" {
		found, err := o.toolchain.FindTool("clang")
		if err != nil {
			return nil, err
		}
		cc = found
	}
	cxx := o.cfg.Value("CXX")
	if cxx == "" {
		found, err := o.toolchain.FindTool("clang++")
		if err != nil {
			return nil, err
		}
		cxx = found
	}

	env := []string{}
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "CFLAGS=") || strings.HasPrefix(e, "CXXFLAGS=") ||
			strings.HasPrefix(e, "LDFLAGS=") || strings.HasPrefix(e, "CC=") ||
			strings.HasPrefix(e, "CXX=") {
			continue
		}
		env = append(env, e)
	}

	cflags := strings.Join(t.ComposeCFlags(sysroot, o.cfg.MinVersion, o.cfg.EmbedBitcode), " ")
	ldflags := strings.Join(t.ComposeLDFlags(sysroot), " ")
	env = append(env,
		"CC="+cc,
		"CXX="+cxx,
		"CFLAGS="+cflags,
		"CXXFLAGS="+cflags,
		"LDFLAGS="+ldflags,
	)
	return env, nil
}

// mergeAll merges the slices that were actually built, once per logical
// library. A single built architecture still produces a valid output.
func (o *Orchestrator) mergeAll(ctx context.Context) ([]ArtifactSet, error) {
	mergedDir := o.cfg.MergedLibDir()
	if err := os.MkdirAll(mergedDir, 0o755); err != nil {
		return nil, &StepError{Step: "merge", Err: err}
	}

	var artifacts []ArtifactSet
	for _, lib := range o.cfg.Libraries {
		var slices []string
		for _, t := range o.targets {
			p := t.LibPath(o.cfg.OutputRoot, lib)
			if _, err := os.Stat(p); err == nil {
				slices = append(slices, p)
			} else {
				debugf("no %s slice for %s, skipping\n", lib, t.Name)
			}
		}
		if len(slices) == 0 {
			return nil, &StepError{Step: "merge", Err: fmt.Errorf("no built slices found for %s", lib)}
		}

		out := filepath.Join(mergedDir, lib)
		cPrintf(colSuccess, o.logWriter, "Merging %s (%d slice(s))\n", lib, len(slices))
		if err := o.merge(ctx, slices, out); err != nil {
			return nil, &StepError{Step: "merge", Err: err}
		}
		artifacts = append(artifacts, ArtifactSet{Library: lib, Slices: slices, Merged: out})
	}
	return artifacts, nil
}

func (o *Orchestrator) merge(ctx context.Context, inputs []string, out string) error {
	return mergeUniversal(o.runner, o.toolchain, o.logWriter, o.cfg.PureMerge, inputs, out)
}

// mergeUniversal runs lipo when available, otherwise (or when forced)
// falls back to the built-in fat writer.
func mergeUniversal(runner Runner, tc Toolchain, logWriter io.Writer, pure bool, inputs []string, out string) error {
	if pure {
		return WriteUniversal(out, inputs...)
	}
	lipo, err := tc.FindTool("lipo")
	if err != nil {
		debugf("lipo unavailable (%v), using built-in fat writer\n", err)
		return WriteUniversal(out, inputs...)
	}
	args := append([]string{"-create"}, inputs...)
	args = append(args, "-output", out)
	cmd := exec.Command(lipo, args...)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	return runner.Run(cmd)
}
