package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "Run sandboxed JavaScript and TypeScript handlers behind HTTP, GraphQL and event streams",
	Long: `weave hosts user scripts in pooled V8 isolates. Scripts register HTTP routes,
asset routes, stream routes, GraphQL fields and cron schedules from their init
function; the host dispatches every request to the registered handler.

Configuration is read from weave.yaml in the working directory (or --config)
and WEAVE_* environment variables, WEAVE_SERVER_PORT sets server.port.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
