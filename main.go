package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chat-proxy/internal/apiserver"
	"chat-proxy/internal/chat"
	"chat-proxy/internal/config"
	"chat-proxy/internal/logger"
	"chat-proxy/internal/types"
	"chat-proxy/internal/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	d := config.Default()

	cmd := &cobra.Command{
		Use:   "chat-proxy",
		Short: "Streaming proxy for chat completion backends",
		Long: `chat-proxy forwards chat requests to a completion backend that answers
with server-sent events, validates every chunk and relays the valid ones
to clients as a stream or as a single aggregated completion.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", d.Listen, "address to listen on")
	flags.String("completion-url", d.CompletionURL, "completion backend endpoint")
	flags.String("bearer-token", d.BearerToken, "require this bearer token on chat routes")
	flags.Int("max-line-bytes", d.MaxLineBytes, "maximum length of a single upstream SSE line")
	flags.Int("max-queue", d.MaxQueue, "maximum buffered chunks per stream, 0 for unbounded")
	flags.Bool("strict-choices", d.StrictChoices, "validate every choice instead of only the first")
	flags.Duration("request-timeout", d.RequestTimeout, "upstream request timeout, 0 for none")
	flags.Duration("heartbeat-interval", d.HeartbeatInterval, "idle time before a keepalive is sent downstream")
	flags.Int("summary-capacity", d.SummaryCapacity, "number of stream summaries kept in memory")
	flags.BoolP("debug", "d", d.Debug, "enable debug logging")
	flags.String("log-format", d.LogFormat, "log format: pretty, json or text")
	flags.String("metrics-namespace", d.MetricsNamespace, "prometheus metrics namespace")

	bindFlags(v, cmd)
	return cmd
}

// bindFlags 把 kebab-case 参数绑定到 snake_case 配置键
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for _, name := range []string{
		"listen", "completion-url", "bearer-token", "max-line-bytes", "max-queue",
		"strict-choices", "request-timeout", "heartbeat-interval", "summary-capacity",
		"debug", "log-format", "metrics-namespace",
	} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), cmd.Flags().Lookup(name))
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.FromFormat(cfg.LogFormat, cfg.Debug)
	slog.SetDefault(log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := chat.NewService(chat.Options{
		Endpoint:      cfg.CompletionURL,
		Client:        utils.NewRestySSEClient(cfg.RequestTimeout),
		MaxLineBytes:  cfg.MaxLineBytes,
		MaxQueue:      cfg.MaxQueue,
		StrictChoices: cfg.StrictChoices,
		Logger:        log,
		Metrics:       chat.NewMetrics(cfg.MetricsNamespace, registry),
	})

	e := apiserver.New(apiserver.Options{
		Service:     svc,
		Summaries:   types.NewLRUCache(cfg.SummaryCapacity),
		Heartbeat:   cfg.HeartbeatInterval,
		Logger:      log,
		Gatherer:    registry,
		BearerToken: cfg.BearerToken,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			"listen", cfg.Listen,
			"completion_url", cfg.CompletionURL,
			"auth", cfg.BearerToken != "",
		)
		errCh <- e.Start(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("start server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
