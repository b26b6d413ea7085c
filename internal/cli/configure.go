package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ovalle/stateflow/internal/config"
)

var (
	flagOpenAIKey    string
	flagAnthropicKey string
	flagPort         int
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the Stateflow configuration file",
	Long: `Write the Stateflow configuration file with the given provider keys
and server settings. Existing values are kept unless overridden.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&flagOpenAIKey, "openai-key", "", "OpenAI API key")
	configureCmd.Flags().StringVar(&flagAnthropicKey, "anthropic-key", "", "Anthropic API key")
	configureCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP port")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	validator := config.NewValidator()
	if flagOpenAIKey != "" {
		if err := validator.ValidateAPIKey(flagOpenAIKey, "openai"); err != nil {
			return err
		}
		cfg.Providers.OpenAIAPIKey = flagOpenAIKey
	}
	if flagAnthropicKey != "" {
		if err := validator.ValidateAPIKey(flagAnthropicKey, "anthropic"); err != nil {
			return err
		}
		cfg.Providers.AnthropicAPIKey = flagAnthropicKey
	}
	if flagPort > 0 {
		cfg.Server.Port = flagPort
	}

	if err := validator.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "You can now start the server with: stateflow serve")

	return nil
}
