package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/jaakkos/hangout/internal/app"
	"github.com/jaakkos/hangout/internal/domain"
	"github.com/jaakkos/hangout/internal/policy"
	"github.com/jaakkos/hangout/internal/repository/sqlite"
	tools "github.com/jaakkos/hangout/internal/tools/hangout"
)

func newRosterCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "roster <space>",
		Short: "Print the saved roster of a space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(cmd.ErrOrStderr(), "[hangout] ", 0)
			pol := policy.New(loadConfig(*configPath, logger))

			store, err := sqlite.New(pol.StateFile())
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			defer store.Close()

			roster, err := app.ReadRoster(cmd.Context(), store, store, domain.SpaceID(args[0]))
			if err != nil {
				return err
			}
			return writeRoster(cmd.OutOrStdout(), roster, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeRoster(w io.Writer, r domain.Roster, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	_, err := fmt.Fprint(w, tools.FormatRoster(r))
	return err
}
