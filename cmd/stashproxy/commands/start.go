package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stashproxy/stashproxy/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the offloading proxy",
	Long: `Start the offloading proxy in the foreground.

The proxy listens on proxy.listen and forwards to the runtime API at
proxy.runtime_api (or AWS_LAMBDA_RUNTIME_API). Point the handler's
AWS_LAMBDA_RUNTIME_API at the proxy yourself, or use "stashproxy run" to
have that wired automatically.

Examples:
  # Start with default config location
  stashproxy start

  # Start with a custom config file
  stashproxy start --config /etc/stashproxy/config.yaml

  # Override settings through the environment
  STASHPROXY_LOGGING_LEVEL=DEBUG stashproxy start`,
	RunE: runStartCmd,
}

func runStartCmd(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	env.serveMetrics(ctx)

	logger.Info("proxy starting", "listen", env.cfg.Proxy.ListenAddr)
	return env.server.Start(ctx)
}
