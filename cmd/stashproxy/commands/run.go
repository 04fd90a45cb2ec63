package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stashproxy/stashproxy/internal/logger"
	"github.com/stashproxy/stashproxy/pkg/bootstrap"
)

var runCmd = &cobra.Command{
	Use:   "run -- <handler command> [args...]",
	Short: "Run a handler process behind the proxy",
	Long: `Start the proxy, rewrite the handler's view of the runtime API to
point at it, then execute the handler command. The handler's exit code is
propagated, and SIGINT/SIGTERM are forwarded to it.

This is the drop-in bootstrap mode: prefix the existing handler command and
nothing else changes.

Examples:
  # Wrap a compiled handler
  stashproxy run -- /var/task/handler

  # Wrap an interpreted runtime
  stashproxy run -- python3 -m awslambdaric app.handler`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRunCmd,
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := setup(ctx)
	if err != nil {
		return err
	}

	env.serveMetrics(ctx)

	code, err := runHandler(ctx, cancel, env, args)
	if err != nil {
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// runHandler starts the proxy, supervises the handler command behind it,
// and returns the handler's exit code. The environment is closed on every
// path before returning, since the caller exits via os.Exit on a non-zero
// code and that skips deferred calls.
func runHandler(ctx context.Context, cancel context.CancelFunc, env *environment, args []string) (int, error) {
	proxyDone := make(chan error, 1)
	go func() { proxyDone <- env.server.Start(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(ctx, 5*time.Second)
	defer addrCancel()
	addr, err := env.server.Addr(addrCtx)
	if err != nil {
		cancel()
		<-proxyDone
		env.close()
		return 0, fmt.Errorf("proxy failed to start: %w", err)
	}

	runner := &bootstrap.Runner{
		Command:   args,
		ProxyAddr: addr,
	}
	runErr := runner.Run(ctx)

	// Handler is gone; drain the proxy before releasing the backend.
	cancel()
	if err := <-proxyDone; err != nil {
		logger.Error("proxy shutdown error", "error", err)
	}
	env.close()

	if runErr != nil {
		logger.Error("handler exited with error", "error", runErr)
		return bootstrap.ExitCode(runErr), nil
	}
	return 0, nil
}
