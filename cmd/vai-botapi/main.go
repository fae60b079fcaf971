package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-botapi/internal/dotenv"
	"github.com/vango-go/vai-botapi/pkg/gateway/config"
	"github.com/vango-go/vai-botapi/pkg/gateway/handlers"
	"github.com/vango-go/vai-botapi/pkg/gateway/journal"
	gatewayserver "github.com/vango-go/vai-botapi/pkg/gateway/server"
)

type botDeps struct {
	loadConfig   func() (config.Config, error)
	openJournal  func(ctx context.Context, dsn string) (journal.Journal, error)
	newServer    func(config.Config, *slog.Logger, handlers.ConversationHandler, ...gatewayserver.Option) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBotDeps() botDeps {
	return botDeps{
		loadConfig: config.LoadFromEnv,
		openJournal: func(ctx context.Context, dsn string) (journal.Journal, error) {
			return journal.Open(ctx, dsn)
		},
		newServer: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

type cliFlags struct {
	host    string
	port    int
	token   string
	envFile string
}

func newRootCmd(ctx context.Context, stderr io.Writer, deps botDeps) *cobra.Command {
	var flags cliFlags
	cmd := &cobra.Command{
		Use:           "vai-botapi",
		Short:         "Voice bot session gateway",
		Long:          "vai-botapi accepts bot connections from a telephony platform over WebSocket and runs one conversation session per connection.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.New(slog.NewTextHandler(stderr, nil))
			if err := dotenv.LoadFile(flags.envFile); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, flags, deps)
			if err != nil {
				return err
			}
			return runBotAPI(ctx, logger, cfg, deps)
		},
	}
	cmd.SetOut(stderr)
	cmd.SetErr(stderr)
	cmd.Flags().StringVar(&flags.host, "host", "", "interface to listen on (overrides VAI_BOTAPI_HOST)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "port to listen on (overrides VAI_BOTAPI_PORT)")
	cmd.Flags().StringVar(&flags.token, "token", "", "bearer token bots must present (overrides VAI_BOTAPI_TOKEN)")
	cmd.Flags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	return cmd
}

// loadConfig reads the environment and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, flags cliFlags, deps botDeps) (config.Config, error) {
	if deps.loadConfig == nil {
		return config.Config{}, errors.New("missing loadConfig dependency")
	}
	cfg, err := deps.loadConfig()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = flags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flags.port
	}
	if cmd.Flags().Changed("token") {
		cfg.Token = flags.token
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runBotAPI(ctx context.Context, logger *slog.Logger, cfg config.Config, deps botDeps) error {
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []gatewayserver.Option
	if cfg.DatabaseURL != "" {
		if deps.openJournal == nil {
			return errors.New("missing openJournal dependency")
		}
		j, err := deps.openJournal(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		opts = append(opts, gatewayserver.WithJournal(j))
	}

	srv := deps.newServer(cfg, logger, newEchoBot(logger), opts...)

	listenErrCh := make(chan error, 1)
	go func() {
		listenErrCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		_ = srv.Close()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("bot api shutdown incomplete", "error", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("bot api stopped")
	return nil
}

func runMain(ctx context.Context, args []string, stderr io.Writer, deps botDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd := newRootCmd(ctx, stderr, deps)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "vai-botapi: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stderr, defaultBotDeps()))
}
