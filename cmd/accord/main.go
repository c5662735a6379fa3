package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "accord",
	Short: "Accord - Real-time planning poker estimation server",
	Long: `Accord is a collaborative estimation server for distributed teams.

Participants join estimation sessions over WebSocket, vote on stories
against a shared card scale, and reveal the round simultaneously.
Session state is event-sourced: every change is an appended event, so
state survives restarts and reconnecting clients resync from a full
snapshot.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Accord version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simCmd)
}
