package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	busgate "github.com/smartcommerce/busgate-go"
	"github.com/smartcommerce/busgate-go/config"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// globalFlags override values loaded from the environment and config file
type globalFlags struct {
	configFile string
	envFiles   []string
	transport  string
	url        string
	source     string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "busgate",
		Short: "Publish to and listen on message broker destinations",
		Long: `busgate is a command line front end for the busgate messaging gateway.
It publishes JSON payloads, listens on destinations and reports broker health
over RabbitMQ, Redis Streams, NATS JetStream, Kafka or an in-memory broker.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", "", "YAML config file")
	pf.StringSliceVar(&flags.envFiles, "env-file", nil, ".env files to load (default ./.env)")
	pf.StringVarP(&flags.transport, "transport", "t", "", "Transport: rabbitmq, redis, nats, kafka or memory")
	pf.StringVarP(&flags.url, "url", "u", "", "Broker connection string")
	pf.StringVar(&flags.source, "source", "", "Source recorded on published messages")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: json or console")

	rootCmd.AddCommand(
		newPublishCommand(flags),
		newListenCommand(flags),
		newHealthCommand(flags),
	)
	return rootCmd
}

// load reads the configuration and applies flag overrides
func (f *globalFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configFile, f.envFiles...)
	if err != nil {
		return config.Config{}, err
	}
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.url != "" {
		cfg.ConnectionString = f.url
	}
	if f.source != "" {
		cfg.Source = f.source
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	return cfg, nil
}

// connect builds the logger and the gateway client. The returned cleanup
// disposes the client and flushes the logger.
func (f *globalFlags) connect(ctx context.Context) (*busgate.Client, func(), error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}

	logger, syncLogs, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	client, err := busgate.NewFromConfig(ctx, cfg, busgate.WithLogger(logger))
	if err != nil {
		_ = syncLogs()
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	cleanup := func() {
		client.Dispose()
		_ = syncLogs()
	}
	return client, cleanup, nil
}

// signalContext is canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
