package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskweave/taskweave/config"
)

// initCmd interactively writes the global config file, grounded on
// haasonsaas-nexus/cmd/nexus/handlers_setup.go's runOnboard prompt flow,
// adapted from prompting for an Anthropic API key to prompting for AWS
// Bedrock credentials and a state store backend.
func initCmd() *cobra.Command {
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the global ~/.taskweave/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{
				AWS:   config.AWSConfig{Region: "us-east-1"},
				Store: config.StoreConfig{Backend: "sqlite"},
				Log:   config.LogConfig{Level: "info", Format: "text"},
			}

			if !nonInteractive {
				reader := bufio.NewReader(cmd.InOrStdin())
				cfg.AWS.Region = promptString(reader, "AWS region", cfg.AWS.Region)
				cfg.AWS.Profile = promptString(reader, "AWS named profile (leave blank to use access keys or the default credential chain)", "")
				if cfg.AWS.Profile == "" {
					cfg.AWS.AccessKeyID = promptString(reader, "AWS access key ID (leave blank for the default credential chain)", "")
					if cfg.AWS.AccessKeyID != "" {
						cfg.AWS.SecretAccessKey = promptString(reader, "AWS secret access key", "")
						cfg.AWS.SessionToken = promptString(reader, "AWS session token (optional)", "")
					}
				}
				cfg.Store.Backend = promptString(reader, "State store backend (sqlite/redis)", cfg.Store.Backend)
				if cfg.Store.Backend == "redis" {
					cfg.Store.RedisAddr = promptString(reader, "Redis address", "localhost:6379")
				}
			}

			path, err := config.GlobalConfigPath()
			if err != nil {
				return err
			}

			raw, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("init: marshal config: %w", err)
			}
			if err := os.WriteFile(path, raw, 0o600); err != nil {
				return fmt.Errorf("init: write %s: %w", path, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&nonInteractive, "yes", false, "skip prompts and write defaults")
	return cmd
}

func promptString(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}
	text, _ := reader.ReadString('\n')
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultValue
	}
	return text
}
