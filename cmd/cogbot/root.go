package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cogbot",
	Short: "cogbot is a Discord bot with captcha verification and channel cooldowns",
	Long: `cogbot verifies new members with an image captcha, rate limits registered
channels and categories, and carries a few community commands (reputation,
lyrics, link shortener, conversations).

Running it without a subcommand starts the bot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
