// Package bootstrap launches the handler process pointed at the local
// proxy instead of the real runtime API, then supervises it: signals are
// forwarded and the child's exit code is propagated.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/stashproxy/stashproxy/internal/logger"
)

// RuntimeAPIEnv is the environment variable every runtime interface client
// reads to find the invocation API.
const RuntimeAPIEnv = "AWS_LAMBDA_RUNTIME_API"

// Env returns a copy of base with RuntimeAPIEnv pointing at proxyAddr.
// The variable is replaced in place if present, appended otherwise, so the
// handler's view of the runtime API is the proxy and nothing else changes.
func Env(base []string, proxyAddr string) []string {
	out := make([]string, 0, len(base)+1)
	replaced := false
	for _, kv := range base {
		if strings.HasPrefix(kv, RuntimeAPIEnv+"=") {
			out = append(out, RuntimeAPIEnv+"="+proxyAddr)
			replaced = true
			continue
		}
		out = append(out, kv)
	}
	if !replaced {
		out = append(out, RuntimeAPIEnv+"="+proxyAddr)
	}
	return out
}

// Runner supervises a single handler process.
type Runner struct {
	// Command is the handler argv. Must not be empty.
	Command []string

	// ProxyAddr is the local proxy host:port injected as the runtime API.
	ProxyAddr string

	// Env is the base environment; defaults to os.Environ().
	Env []string
}

// Run starts the handler and blocks until it exits or the context is
// cancelled. SIGINT and SIGTERM received by this process are forwarded to
// the child so shutdown ordering stays with the platform.
//
// A clean zero exit returns nil; a non-zero exit returns an error from
// which ExitCode extracts the code.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("no handler command given")
	}

	env := r.Env
	if env == nil {
		env = os.Environ()
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Env = Env(env, r.ProxyAddr)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Info("starting handler process",
		"command", strings.Join(r.Command, " "),
		"runtime_api", r.ProxyAddr,
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start handler process: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-sigs:
			logger.Debug("forwarding signal to handler", "signal", sig.String())
			_ = cmd.Process.Signal(sig)
		case err := <-done:
			if err != nil {
				return fmt.Errorf("handler process exited: %w", err)
			}
			logger.Info("handler process exited cleanly")
			return nil
		}
	}
}

// ExitCode extracts the handler's exit code from a Run error. A nil error
// is 0; errors that carry no exit status map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
