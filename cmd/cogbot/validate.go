package main

import (
	"fmt"
	"io"
	"os"

	"github.com/stefmmm/Predeactor-Cogs/internal/config"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var validateJSON bool

// ValidationResult is what validate prints.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config"`
	Database string   `json:"database,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration without starting the bot",
	Long: `Load the configuration the same way the bot does (config.yaml, .env, then the
environment) and report problems.

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors`,
	Run: func(cmd *cobra.Command, args []string) {
		result := validateConfig()
		outputValidationResult(cmd.OutOrStdout(), result, validateJSON)
		if !result.Valid {
			os.Exit(1)
		}
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yaml"
}

func validateConfig() ValidationResult {
	result := ValidationResult{Config: configPath()}
	cfg, err := config.Read()
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Database = cfg.Database.Driver
	result.Warnings = configWarnings(cfg)
	if cfg.DiscordToken == "" {
		result.Errors = append(result.Errors, config.ErrMissingToken.Error())
	}
	result.Valid = len(result.Errors) == 0
	return result
}

// configWarnings lists optional features that stay disabled with cfg.
func configWarnings(cfg config.Config) []string {
	var warnings []string
	if cfg.Shortener.BaseURL == "" {
		warnings = append(warnings, "shortener.base_url is empty, /shorten is disabled")
	}
	if cfg.Lyrics.APIKey == "" {
		warnings = append(warnings, "lyrics.api_key is empty, /lyrics is disabled")
	}
	if cfg.Cleverbot.APIKey == "" {
		warnings = append(warnings, "cleverbot.api_key is empty, /ask and /conversation are disabled")
	}
	return warnings
}

func outputValidationResult(w io.Writer, result ValidationResult, asJSON bool) {
	if asJSON {
		output, err := jsoniter.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(w, "{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Fprintln(w, string(output))
		return
	}
	if result.Valid {
		fmt.Fprintf(w, "✓ Configuration is valid: %s\n", result.Config)
	} else {
		fmt.Fprintf(w, "❌ Configuration has errors: %s\n", result.Config)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}
