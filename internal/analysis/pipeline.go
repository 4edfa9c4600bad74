package analysis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	// OutputMarker is the stdout line prefix the dump script prints with
	// the location of the generated record.
	OutputMarker = "GHIDRA_JSON_GENERATED:"

	// OutputDirEnv is the environment variable through which the scratch
	// output directory is handed to the dump script.
	OutputDirEnv = "GHIDRA_ANALYSIS_OUTPUT"

	// analysisTimeoutPerFile is the per-file timeout passed to the
	// headless analyzer, in seconds.
	analysisTimeoutPerFile = "600"

	// diagnosticTailBytes bounds how much collaborator output is attached
	// to upstream errors.
	diagnosticTailBytes = 1000
)

// RunResult is the outcome of one pipeline invocation.
type RunResult struct {
	// RecordPath is the record location announced by the collaborator.
	RecordPath string

	Stdout string
	Stderr string
}

// Runner invokes the external analysis pipeline for one binary.
// Given an input file and scratch directories, it either announces
// exactly one produced record or fails with ErrUpstream.
type Runner interface {
	Run(ctx context.Context, binaryPath, projectDir, outputDir string) (RunResult, error)
}

// CommandExecutor abstracts process execution for testing.
type CommandExecutor interface {
	// Run executes a command with extra environment variables and returns
	// stdout and stderr separately. A non-zero exit is not an error here;
	// the pipeline judges success solely by its output marker.
	Run(ctx context.Context, env []string, name string, args ...string) (stdout, stderr []byte, err error)
}

// DefaultExecutor executes commands using os/exec.
type DefaultExecutor struct{}

// Run executes a command and returns its stdout and stderr.
func (e *DefaultExecutor) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if _, isExit := err.(*exec.ExitError); isExit {
		// The analyzer frequently exits non-zero while still producing a
		// record; the marker scan decides.
		err = nil
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// HeadlessRunner drives the Ghidra headless analyzer.
type HeadlessRunner struct {
	executor     CommandExecutor
	headlessPath string
	scriptDir    string
	dumpScript   string
}

// NewHeadlessRunner creates a runner for the headless analyzer at
// headlessPath, using dump scripts from scriptDir.
func NewHeadlessRunner(headlessPath, scriptDir string) *HeadlessRunner {
	return &HeadlessRunner{
		executor:     &DefaultExecutor{},
		headlessPath: headlessPath,
		scriptDir:    scriptDir,
		dumpScript:   "GhidraDataDump.java",
	}
}

// NewHeadlessRunnerWithExecutor creates a runner with a custom executor
// (for testing).
func NewHeadlessRunnerWithExecutor(executor CommandExecutor, headlessPath, scriptDir string) *HeadlessRunner {
	r := NewHeadlessRunner(headlessPath, scriptDir)
	r.executor = executor
	return r
}

// Run analyzes one binary into projectDir, telling the dump script to
// write its record under outputDir. The produced record's location is
// recovered from the output marker; a missing marker is an upstream
// failure carrying the collaborator's output tails.
func (r *HeadlessRunner) Run(ctx context.Context, binaryPath, projectDir, outputDir string) (RunResult, error) {
	if r.headlessPath == "" {
		return RunResult{}, fmt.Errorf("%w: headless analyzer path is not configured", ErrUpstream)
	}

	projName := "proj_" + filepath.Base(projectDir)
	stdout, stderr, err := r.executor.Run(ctx,
		[]string{OutputDirEnv + "=" + outputDir},
		r.headlessPath,
		projectDir,
		projName,
		"-import", binaryPath,
		"-scriptPath", r.scriptDir,
		"-postScript", r.dumpScript,
		"-analysisTimeoutPerFile", analysisTimeoutPerFile,
	)

	res := RunResult{
		Stdout: string(stdout),
		Stderr: string(stderr),
	}

	if err != nil {
		return res, fmt.Errorf("%w: analyzer invocation failed: %v: %s",
			ErrUpstream, err, tail(res.Stderr, diagnosticTailBytes))
	}

	recordPath, ok := ParseOutputMarker(res.Stdout)
	if !ok {
		return res, fmt.Errorf("%w: analyzer produced no record (stdout tail: %q, stderr tail: %q)",
			ErrUpstream, tail(res.Stdout, diagnosticTailBytes), tail(res.Stderr, diagnosticTailBytes))
	}

	res.RecordPath = recordPath
	return res, nil
}

// ParseOutputMarker scans collaborator stdout for the record location
// marker. Log suffixes such as " (GhidraScript)" and surrounding quotes
// are stripped from the announced path.
func ParseOutputMarker(stdout string) (string, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		idx := strings.Index(line, OutputMarker)
		if idx < 0 {
			continue
		}
		raw := strings.TrimSpace(line[idx+len(OutputMarker):])
		if cut := strings.Index(raw, " ("); cut >= 0 {
			raw = raw[:cut]
		}
		raw = strings.Trim(raw, `"'`)
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		return raw, true
	}
	return "", false
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
