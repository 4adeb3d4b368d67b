package commands

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2rtk/ntripcaster/internal/api"
	apiauth "github.com/2rtk/ntripcaster/internal/api/auth"
	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/caster"
	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/metrics"
	"github.com/2rtk/ntripcaster/pkg/store"

	// Import prometheus metrics to register init() functions
	_ "github.com/2rtk/ntripcaster/pkg/metrics/prometheus"
)

var ephemeral bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caster",
	Long: `Run the caster in the foreground.

The NTRIP listener and the admin API start together and shut down
gracefully on SIGINT/SIGTERM.

Examples:
  # Run with the default configuration
  ntripcaster serve

  # Run with a custom config file
  ntripcaster serve --config /etc/ntripcaster/config.yaml

  # Run with an in-memory credential store (testing only)
  ntripcaster serve --ephemeral

  # Run with environment variable overrides
  NTRIPCASTER_LOGGING_LEVEL=DEBUG ntripcaster serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Use an in-memory credential store (all accounts lost on exit)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("ntripcaster starting", "version", Version)
	logger.Info("configuration loaded", "source", configSource(GetConfigFile()))

	// Initialize metrics (if enabled)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled", "endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Web.Port))
	} else {
		logger.Info("metrics collection disabled")
	}

	// Open the credential store
	var st *store.Store
	if ephemeral {
		st, err = store.NewInMemory()
		logger.Warn("ephemeral store in use; accounts will not survive a restart")
	} else {
		st, err = store.New(&cfg.Database)
	}
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Ensure an admin account exists (generates a password on first run)
	adminPassword, err := st.EnsureAdmin(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure admin account: %w", err)
	}
	if adminPassword != "" {
		logger.Info("admin account created", "username", "admin")
		fmt.Printf("\n*** IMPORTANT: Admin account created with password: %s ***\n", adminPassword)
		fmt.Println("Please save this password. It will not be shown again.")
		fmt.Println()
	}

	// The admin API needs a signing secret. A generated one works, but
	// tokens stop verifying after a restart.
	jwtSecret := cfg.Web.JWTSecret
	if jwtSecret == "" {
		jwtSecret, err = randomSecret()
		if err != nil {
			return err
		}
		logger.Warn("no web.jwt_secret configured; generated one for this run (tokens will not survive a restart)")
	}
	jwtService, err := apiauth.NewJWTService(apiauth.JWTConfig{
		Secret:        jwtSecret,
		TokenDuration: cfg.Web.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	c := caster.New(cfg, st, metrics.NewCasterObserver())
	apiServer := api.NewServer(cfg.Web, c, st, jwtService)

	// Re-apply logging settings when the config file changes underneath
	// a running caster.
	if GetConfigFile() != "" {
		err := config.Watch(GetConfigFile(), func(updated *config.Config) {
			if err := InitLogger(updated); err != nil {
				logger.Error("failed to apply reloaded logging config", "error", err)
				return
			}
			logger.Info("configuration reloaded", "level", updated.Logging.Level)
		})
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		}
	}

	// Run the NTRIP listener and the admin API side by side.
	casterDone := make(chan error, 1)
	go func() {
		casterDone <- c.Serve(ctx)
	}()
	apiDone := make(chan error, 1)
	go func() {
		apiDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("caster is running", "ntrip_port", cfg.Ntrip.Port, "web_port", cfg.Web.Port)

	var runErr error
	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
	case runErr = <-casterDone:
		casterDone = nil
		cancel()
	case runErr = <-apiDone:
		apiDone = nil
		cancel()
	}

	// Drain whichever server is still stopping.
	if casterDone != nil {
		if err := <-casterDone; err != nil && runErr == nil {
			runErr = err
		}
	}
	if apiDone != nil {
		if err := <-apiDone; err != nil && runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		return runErr
	}
	logger.Info("server stopped gracefully")
	return nil
}

// configSource returns a description of where the config was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat(config.GetDefaultConfigPath()); err == nil {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// randomSecret returns 32 random bytes hex-encoded, suitable as an
// HMAC signing key.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
