package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"skyclaw/pkg/auth"
	"skyclaw/pkg/channel"
	"skyclaw/pkg/channel/telegram"
	"skyclaw/pkg/config"
	"skyclaw/pkg/ds"
	"skyclaw/pkg/dsserver"
	"skyclaw/pkg/gateway"
	"skyclaw/pkg/logger"
	"skyclaw/pkg/metrics"
	"skyclaw/pkg/paths"
	"skyclaw/pkg/sprites"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the message gateway",
	Long:  "Runs the Skyclaw gateway: mailbox streams, channel intake, sprite activation, and the per-user tool endpoint.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		layout, err := paths.Resolve()
		if err != nil {
			log.Error("Failed to resolve runtime directories", "error", err)
			return
		}
		if err := layout.InitDirs(); err != nil {
			log.Error("Failed to create runtime directories", "error", err)
			return
		}

		store, err := dsserver.OpenStore(filepath.Join(layout.Data, "streams"))
		if err != nil {
			log.Error("Failed to open stream store", "error", err)
			return
		}
		defer store.Close()

		streamServer := dsserver.NewServer(store, slog.Default())
		streamErrCh := make(chan error, 1)
		streamAddr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.DSPort)
		if err := streamServer.Start(runCtx, streamAddr, streamErrCh); err != nil {
			log.Error("Failed to start stream server", "error", err)
			return
		}

		mailbox := ds.New(streamServer.BaseURL())
		gatewayMetrics := metrics.New()

		waker, err := buildWaker(cfg, gatewayMetrics, log)
		if err != nil {
			log.Error("Sprite control plane configuration invalid", "error", err)
			return
		}
		if waker == nil {
			log.Warn("No sprite token configured, messages will be recorded but not processed")
		}

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		svc, err := gateway.NewService(cfg, gateway.ServiceOptions{
			Mailbox:  mailbox,
			Streams:  streamServer.Handler(),
			Waker:    waker,
			Adapters: adapters,
			Metrics:  gatewayMetrics,
			Logger:   slog.Default(),
		})
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"port", cfg.Gateway.Port,
			"public_url", cfg.Gateway.PublicURL,
			"channels", enabledChannelNames(adapters),
		)

		go func() {
			if err := <-streamErrCh; err != nil {
				log.Error("Stream server failed", "error", err)
				stop()
			}
		}()

		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

// buildWaker constructs the sprite waker when a control-plane token is
// configured, or returns nil for record-only mode.
func buildWaker(cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (*gateway.Waker, error) {
	token := strings.TrimSpace(cfg.Sprites.Token)
	if token == "" {
		return nil, nil
	}

	opts := []sprites.ClientOption{}
	if baseURL := strings.TrimSpace(cfg.Sprites.BaseURL); baseURL != "" {
		opts = append(opts, sprites.WithBaseURL(baseURL))
	}

	cp, err := sprites.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("configure sprite client: %w", err)
	}

	signer, err := auth.NewSigner(cfg.Gateway.JWTSecret)
	if err != nil {
		return nil, err
	}

	return gateway.NewWaker(cp, signer, cfg.Sprites, cfg.Gateway.PublicURL, m, log), nil
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		log.Info("No channel adapters enabled, HTTP intake only")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
