package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "hangout",
		Short:         "Shared-overlay presence for chat participants",
		Long:          "hangout keeps the participants of a conversation visible as avatars on a click-through overlay, synchronized through a shared session store.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("HANGOUT_CONFIG"), "path to the YAML config (default: built-in defaults)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(&configPath),
		newOverlayCmd(&configPath),
		newRosterCmd(&configPath),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "hangout "+Version)
			return err
		},
	}
}
