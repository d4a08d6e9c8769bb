package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	busgate "github.com/smartcommerce/busgate-go"
	"github.com/smartcommerce/busgate-go/health"
	"github.com/smartcommerce/busgate-go/interceptors"
	"github.com/smartcommerce/busgate-go/messaging"
	"github.com/smartcommerce/busgate-go/metrics"
	"github.com/spf13/cobra"
)

func newListenCommand(flags *globalFlags) *cobra.Command {
	var (
		concurrency int
		metricsAddr string
		fail        bool
		eventTypes  []string
	)

	cmd := &cobra.Command{
		Use:   "listen <destination...>",
		Short: "Print messages arriving on destinations",
		Long:  "Subscribe to one or more destinations and print every message until interrupted. Messages are completed unless --fail is set.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = cfg.MetricsAddr
			}

			logger, syncLogs, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer syncLogs()

			registry := prometheus.NewRegistry()
			collector, err := metrics.NewPrometheusCollector(registry)
			if err != nil {
				return err
			}

			client, err := busgate.NewFromConfig(ctx, cfg,
				busgate.WithLogger(logger),
				busgate.WithMetrics(collector),
				busgate.WithInterceptors(listenInterceptors(logger, eventTypes)))
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}
			defer client.Dispose()

			if metricsAddr != "" {
				srv := newOpsServer(metricsAddr, registry, client.HealthRegistry())
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("ops server failed", "addr", metricsAddr, "error", err)
					}
				}()
				defer shutdownServer(srv, logger)
			}

			printer := &messagePrinter{out: cmd.OutOrStdout(), fail: fail}
			var opts []busgate.SubscribeOption
			if concurrency > 0 {
				opts = append(opts, busgate.WithMaxConcurrentCalls(concurrency))
			}
			for _, destination := range args {
				sub, err := client.SubscribeRaw(ctx, destination, printer.handle, opts...)
				if err != nil {
					return fmt.Errorf("failed to subscribe to %s: %w", destination, err)
				}
				defer sub.Close()
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %v... Press Ctrl+C to stop\n", args)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Max concurrent handlers per destination")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	cmd.Flags().BoolVar(&fail, "fail", false, "Abandon every message instead of completing it")
	cmd.Flags().StringSliceVar(&eventTypes, "only", nil, "Complete messages of other event types without printing them")
	return cmd
}

// listenInterceptors logs every invocation and, with --only, skips other event types
func listenInterceptors(logger *slog.Logger, eventTypes []string) *interceptors.InterceptorChain {
	chain := interceptors.NewInterceptorChain(interceptors.NewLoggingInterceptor(logger))
	if len(eventTypes) > 0 {
		chain.Add(interceptors.NewFilteringInterceptor(
			interceptors.NewEventTypeFilter(eventTypes...), interceptors.SkipWithLog).WithLogger(logger))
	}
	return chain
}

// messagePrinter writes received messages; handlers run concurrently
type messagePrinter struct {
	mu   sync.Mutex
	out  io.Writer
	fail bool
}

var errRejected = errors.New("rejected by --fail")

func (p *messagePrinter) handle(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if env, ok := messaging.EnvelopeFromContext(ctx); ok {
		fmt.Fprintf(p.out, "Message %s\n", env.ID)
		fmt.Fprintf(p.out, "  Type: %s\n", env.EventType())
		fmt.Fprintf(p.out, "  Source: %s\n", env.Source())
		fmt.Fprintf(p.out, "  Correlation ID: %s\n", env.CorrelationID)
		fmt.Fprintf(p.out, "  Timestamp: %s\n", env.Timestamp().Format(time.RFC3339))
		fmt.Fprintf(p.out, "  Delivery Count: %d\n", env.DeliveryCount)
	}
	fmt.Fprintf(p.out, "  Body: %s\n", truncate(string(body), 200))

	if p.fail {
		return errRejected
	}
	return nil
}

func newOpsServer(addr string, registry *prometheus.Registry, checks *health.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health.NewHandler(checks, 5*time.Second))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func shutdownServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("failed to shut down ops server", "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
