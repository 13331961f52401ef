// Package trace runs the heavy-compute prover program that turns
// program inputs into a provable execution trace (PIE). The computation
// itself is a black box: a local subprocess invocation.
package trace

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Config holds trace-runner settings.
type Config struct {
	// ProgramPath is the compiled prover program executed per job.
	ProgramPath string `yaml:"program_path"`
	// OutputDir receives generated PIE files.
	OutputDir string `yaml:"output_dir"`
}

// LocalRunner executes the prover program as a subprocess.
type LocalRunner struct {
	cfg Config

	mu      sync.Mutex
	running map[string]*exec.Cmd
}

// NewLocalRunner creates a subprocess-backed trace runner.
func NewLocalRunner(cfg Config) *LocalRunner {
	return &LocalRunner{
		cfg:     cfg,
		running: make(map[string]*exec.Cmd),
	}
}

// Start launches trace generation for the given inputs and returns a
// handle used to await completion.
func (r *LocalRunner) Start(ctx context.Context, inputsRef string) (string, error) {
	handle := strings.TrimSuffix(filepath.Base(inputsRef), filepath.Ext(inputsRef))
	out := filepath.Join(r.cfg.OutputDir, handle+".pie")

	cmd := exec.CommandContext(ctx, r.cfg.ProgramPath, "--input", inputsRef, "--output", out)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start trace generation for %s: %w", inputsRef, err)
	}

	r.mu.Lock()
	r.running[handle] = cmd
	r.mu.Unlock()
	return handle, nil
}

// Wait blocks until the trace for handle is complete and returns the
// PIE artifact reference.
func (r *LocalRunner) Wait(ctx context.Context, handle string) (string, error) {
	r.mu.Lock()
	cmd, ok := r.running[handle]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no running trace generation for handle %q", handle)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		r.mu.Lock()
		delete(r.running, handle)
		r.mu.Unlock()
		if err != nil {
			return "", fmt.Errorf("trace generation %s failed: %w", handle, err)
		}
		return filepath.Join(r.cfg.OutputDir, handle+".pie"), nil
	}
}
