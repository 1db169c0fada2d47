package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "trilha",
		Short:         "Trilha - guided consulting journeys and plan boards",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml or json)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(execCmd(&configPath))
	rootCmd.AddCommand(reconcileCmd(&configPath))
	rootCmd.AddCommand(nextCmd(&configPath))
	rootCmd.AddCommand(boardCmd(&configPath))
	rootCmd.AddCommand(actionsCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
