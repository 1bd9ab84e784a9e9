package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/nfrund/relaychat/internal/app"
	"github.com/nfrund/relaychat/internal/config"
	"github.com/nfrund/relaychat/internal/logging"
	"github.com/nfrund/relaychat/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat relay",
	Long: `Run the producer (send) and consumer (receive) servers. Both share one
in-process broker, so a message sent to the producer is pushed to every
WebSocket client of the consumer and retained for polling clients.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New()

	injector := app.NewInjector(cfg, logger)
	defer injector.Shutdown()

	r, err := do.Invoke[*relay.Relay](injector)
	if err != nil {
		return fmt.Errorf("build relay: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil {
		logger.Error("Relay stopped", "error", err)
		return err
	}
	logger.Info("Relay stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
