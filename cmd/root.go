// Package cmd defines the clipper command line: clip URLs once from the
// terminal, or serve the HTTP API.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/api"
	"github.com/famotime/siyuan-scripts/internal/app"
	"github.com/famotime/siyuan-scripts/internal/config"
	"github.com/famotime/siyuan-scripts/internal/logging"
	"github.com/famotime/siyuan-scripts/internal/pipeline"
)

// sessionKeyType is the key for storing the session in the context.
type sessionKeyType string

const sessionKey sessionKeyType = "session"

// App is the part of the application container the commands use.
type App interface {
	Close()
	Logger() *zap.Logger
	Runner() *pipeline.Runner
	Outcomes() app.Outcomes
	Checks() map[string]api.ReadinessCheck
}

// session is what PersistentPreRunE hands to subcommands.
type session struct {
	cfg    config.Config
	app    App
	logger *zap.Logger
	once   sync.Once
}

// close releases the app once; it runs from PersistentPostRun or, when the
// command failed and cobra skipped that hook, from the cleanup func.
func (s *session) close() {
	s.once.Do(func() {
		s.app.Close()
		_ = s.logger.Sync()
	})
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd returns the root command and a cleanup func that closes the
// application if a subcommand started it.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		active  *session
	)

	cmd := &cobra.Command{
		Use:   "clipper",
		Short: "Clip web pages into SiYuan notes.",
		Long: `clipper fetches web articles, follows wrapper pages to the original
article, converts them to markdown, stores their images locally and imports
the result into a SiYuan notebook.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			active = &session{cfg: cfg, app: appInstance, logger: logger}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, active))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return
			}
			s.close()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")

	cmd.AddCommand(newClipCmd())
	cmd.AddCommand(newServeCmd())

	cleanup := func() {
		if active != nil {
			active.close()
		}
	}
	return cmd, cleanup
}

func resolveSession(ctx context.Context) (*session, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil || s.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
