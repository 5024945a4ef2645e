// Command scad runs the SCA orchestrator service and its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scad",
		Short:         "Strong customer authentication service for BNPL checkout",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (yaml, toml or json); SCA_* env vars override it")

	root.AddCommand(serveCmd())
	root.AddCommand(signCmd())
	root.AddCommand(configCmd())
	return root
}
