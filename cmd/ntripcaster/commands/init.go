package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/2rtk/ntripcaster/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample ntripcaster configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/ntripcaster/config.yaml. Use --config to specify a
custom path.

Examples:
  # Initialize with default location
  ntripcaster init

  # Initialize with custom path
  ntripcaster init --config /etc/ntripcaster/config.yaml

  # Force overwrite existing config
  ntripcaster init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	cfg := config.GetDefaultConfig()

	// Bake a signing secret in so admin tokens survive restarts.
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	cfg.Web.JWTSecret = secret

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the caster with: ntripcaster serve")
	fmt.Printf("  3. Or specify custom config: ntripcaster serve --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random JWT secret has been generated and stored in the file.")
	fmt.Println("  The file is written with mode 0600; keep it private, or move the")
	fmt.Println("  secret to the NTRIPCASTER_WEB_JWT_SECRET environment variable.")

	return nil
}
