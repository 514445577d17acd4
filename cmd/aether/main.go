package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aether",
		Short: "Aether - object pools and thread-per-stage pipelines",
		Long: `Aether runs CPU-bound transforms as a chain of stages, one OS thread per stage,
connected by hand-off channels and fed from a reusable object pool.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML, JSON or TOML configuration file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the configuration")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Aether v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newRunCmd())
	root.AddCommand(newPoolCmd())

	return root
}
