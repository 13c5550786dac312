/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "skyclaw",
	Short: "Per-user mailbox streams with on-demand sprite activation",
	Long: `Skyclaw routes user messages into durable per-user mailbox streams and
wakes a per-user sprite to process them. Run the gateway on the control
side and the handler inside a sprite.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Missing .env files are fine; environment wins over file values.
	_ = godotenv.Load()

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
