package commands

import (
	"context"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// openStore loads configuration and opens the credential database for
// the management commands.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return st, cfg, nil
}

// promptPassword reads a password from the terminal without echo,
// asking twice to catch typos.
func promptPassword(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(first) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}

	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

// cmdContext returns the context for store operations in one-shot
// commands.
func cmdContext() context.Context {
	return context.Background()
}
