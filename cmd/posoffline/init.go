package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initBaseURL string

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "POS API root (e.g. https://pos.example.com/api)")
}

var initCmd = &cobra.Command{
	Use:   "init <api-key>",
	Short: "Store API key in ~/.posoffline/config.toml",
	Long:  "Initialize the CLI by storing your POS API key and defaults in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.APIKey = args[0]
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}
		if cfg.Storage.Path == "" {
			dir, err := configDir()
			if err != nil {
				return err
			}
			cfg.Storage.Path = filepath.Join(dir, "offline.db")
		}
		if cfg.Serve.Addr == "" {
			cfg.Serve.Addr = "127.0.0.1:8787"
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("API key saved to %s\n", path)
		return nil
	},
}
