// Command echo is a long-polling bot that replies to every text message with
// the same text.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/prilive-com/telegrampoller/telegrampoller"
)

var (
	configPath   string
	opsAddr      string
	dev          bool
	otlpEndpoint string
	otlpProtocol string
	otlpInsecure bool
)

var rootCmd = &cobra.Command{
	Use:   "echo",
	Short: "Echo bot driven by Telegram long polling.",
	Long: `echo pulls updates with getUpdates and replies to each text message
with its own text. The bot token is read from TELEGRAM_BOT_TOKEN (a .env file
is loaded if present) or from the config file.`,
	RunE:          runEcho,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print incoming updates without replying",
	RunE:  runTail,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&dev, "dev", false, "use development settings (short polls, debug logging)")
	rootCmd.Flags().StringVar(&opsAddr, "ops-addr", ":9090", "listen address for /healthz and /metrics (empty disables)")
	rootCmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP collector for Bot API call spans (empty disables tracing)")
	rootCmd.Flags().StringVar(&otlpProtocol, "otlp-protocol", "grpc", "OTLP protocol: grpc or http")
	rootCmd.Flags().BoolVar(&otlpInsecure, "otlp-insecure", false, "disable TLS towards the OTLP collector")
	rootCmd.AddCommand(tailCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newBot(ctx context.Context, extra ...telegrampoller.Option) (*telegrampoller.Bot, error) {
	var opts []telegrampoller.Option
	if dev {
		opts = append(opts, telegrampoller.DevelopmentPreset())
	}
	opts = append(opts, extra...)

	bot, err := telegrampoller.NewFromConfig(ctx, configPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bot: %w", err)
	}
	return bot, nil
}

func runEcho(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []telegrampoller.Option{telegrampoller.WithMetrics(telegrampoller.NewMetrics(reg))}

	if otlpEndpoint != "" {
		tp, err := newTracerProvider(ctx, otlpEndpoint, otlpProtocol, otlpInsecure)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		opts = append(opts, telegrampoller.WithTracerProvider(tp))
	}

	bot, err := newBot(ctx, opts...)
	if err != nil {
		return err
	}
	logger := bot.Logger()

	poller := telegrampoller.NewPoller(bot.Updates(), echoHandler(bot),
		telegrampoller.WithDeleteWebhook(true),
	)
	if err := poller.Start(ctx); err != nil {
		return err
	}

	if opsAddr != "" {
		go func() {
			if err := telegrampoller.ServeOps(ctx, opsAddr, telegrampoller.OpsHandler(poller, reg), logger); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		poller.Stop()
		return nil
	case <-poller.Done():
		return poller.Err()
	}
}

// echoHandler replies to text messages and ignores every other kind.
func echoHandler(bot *telegrampoller.Bot) telegrampoller.HandlerFunc {
	return func(ctx context.Context, ev telegrampoller.Event) error {
		if ev.Kind != telegrampoller.KindMessage {
			bot.Logger().Debug("ignoring update", "update_id", ev.UpdateID, "kind", ev.Kind.String())
			return nil
		}

		msg, err := ev.Message()
		if err != nil {
			return err
		}
		if msg.Text == "" {
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_, err = bot.Reply(ctx, msg, msg.Text)
		return err
	}
}

func runTail(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := newBot(ctx)
	if err != nil {
		return err
	}
	logger := bot.Logger()

	if err := bot.DeleteWebhook(ctx, false); err != nil {
		return err
	}

	for ev, err := range bot.Updates().All(ctx) {
		if err != nil {
			if errors.Is(err, telegrampoller.ErrMalformedEnvelope) {
				logger.Warn("skipping update", "error", err)
				continue
			}
			logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		printEvent(ev)
	}
	return nil
}

func printEvent(ev telegrampoller.Event) {
	fmt.Printf("\n--- Update ID: %d (%s) ---\n", ev.UpdateID, ev.Kind)

	switch ev.Kind {
	case telegrampoller.KindCallbackQuery:
		if cb, err := ev.CallbackQuery(); err == nil {
			fmt.Printf("Callback: %s\n", cb.Data)
		}
	case telegrampoller.KindInlineQuery:
		if q, err := ev.InlineQuery(); err == nil {
			fmt.Printf("Inline query: %s\n", q.Query)
		}
	default:
		msg, err := ev.AnyMessage()
		if err != nil {
			fmt.Printf("Payload: %s\n", ev.Payload)
			return
		}
		if msg.From != nil {
			fmt.Printf("From: %s (@%s)\n", msg.From.FirstName, msg.From.Username)
		}
		if msg.Text != "" {
			fmt.Printf("Text: %s\n", msg.Text)
		}
	}
}
