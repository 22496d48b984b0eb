package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var webhookAddr string

func init() {
	webhookCmd.Flags().StringVar(&webhookAddr, "addr", "", "listen address (default ci.webhook_addr)")
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Serve the CI webhook receiver",
	Long: `Serve POST /webhook for GitHub check_run, check_suite and ping events,
plus GET /health and GET /metrics. Deliveries are validated against
ci.webhook_secret.

Examples:
  fuzagent webhook
  fuzagent webhook --addr :8080`,
	Args: cobra.NoArgs,
	RunE: runWebhook,
}

func runWebhook(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if webhookAddr != "" {
		a.cfg.CI.WebhookAddr = webhookAddr
	}
	if !a.cfg.CI.WebhookSecret.IsSet() {
		a.logger.Warn(ctx, "ci.webhook_secret is not set; deliveries are not authenticated")
	}

	srv, _, err := newWebhookServer(a)
	if err != nil {
		return err
	}
	a.logger.Info(ctx, "starting webhook receiver", zap.String("addr", a.cfg.CI.WebhookAddr))
	return srv.Run(ctx)
}
