package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "tiermemctl",
	Short: "Userspace control plane for DRAM/NVRAM tiered page placement",
	Long: `tiermemctl drives page migration between a fast DRAM tier and a slow
NVRAM tier on a NUMA machine. It talks to an in-kernel page-walk
collaborator over netlink, runs a periodic placement loop that rebalances
tiers by occupancy and bandwidth, and exposes a bind/unbind/debug admin
surface over stdin and a Unix domain socket.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
