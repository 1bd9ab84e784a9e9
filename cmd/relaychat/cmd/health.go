package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/relaychat/internal/chatclient"
	"github.com/nfrund/relaychat/internal/config"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that both relay sides are reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		client := chatclient.New(clientConfig(cfg))

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()
		h := client.Health(ctx)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "producer %s: %s\n", cfg.Client.ProducerURL, status(h.Producer))
		fmt.Fprintf(out, "consumer %s: %s\n", cfg.Client.ConsumerURL, status(h.Consumer))
		if !h.Producer || !h.Consumer {
			return errors.New("relay unhealthy")
		}
		return nil
	},
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "unreachable"
}

// clientConfig maps loaded settings onto a chat client configuration.
func clientConfig(cfg *config.Config) chatclient.Config {
	return chatclient.Config{
		ProducerURL:  cfg.Client.ProducerURL,
		ConsumerURL:  cfg.Client.ConsumerURL,
		Room:         cfg.Client.Room,
		BaseDelay:    cfg.Client.BaseDelay,
		MaxAttempts:  cfg.Client.MaxAttempts,
		PollInterval: cfg.Client.PollInterval,
	}
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "how long to wait for both probes")
	rootCmd.AddCommand(healthCmd)
}
