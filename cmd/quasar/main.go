package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/quasar/internal/config"
	"github.com/oriys/quasar/internal/logging"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quasar",
		Short: "Quasar - remote function invocation gateway",
		Long:  "Invoke deployed functions across services and organizations, with credential brokering and oversized-payload offload",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogFormat, cfg.LogLevel)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(
		invokeCmd(),
		invokeOrgCmd(),
		invokeServiceCmd(),
		workflowCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	c := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		c = loaded
	}
	config.LoadFromEnv(c)
	if c.ServiceName == "" {
		return nil, fmt.Errorf("no service name configured (set QUASAR_SERVICE_NAME or service_name)")
	}
	return c, nil
}
