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
	Use:   "vigil",
	Short: "Vigil - distributed anomaly detection coordinator",
	Long: `Vigil runs a cluster of cooperating detection nodes. Each node scores
its own measurements locally, and a local anomaly only becomes a
zone-wide incident after a quorum of the zone's nodes agrees.

Nodes exchange heartbeats, replicate detection-zone policy, vote on
alerts, and repair membership and policy drift after partial failures.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vigil version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("api", "http://127.0.0.1:7947",
		"Admin API address of the target node")
}
