package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicecard/internal/cardstore"
	"github.com/MrWong99/voicecard/internal/config"
)

func newMigrateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the configured card store",
		Long: `Prepare the configured card store.

For postgres the schema is created if it does not exist. For badger the data
directory is created and opened once. The memory backend needs nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load(cmd, false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st := cfg.Storage

			switch st.Backend {
			case config.StoragePostgres:
				s, err := cardstore.OpenPostgres(cmd.Context(), st.PostgresDSN)
				if err != nil {
					return err
				}
				s.Close()
				fmt.Fprintln(out, "postgres schema is up to date")
			case config.StorageBadger:
				s, err := cardstore.OpenBadger(cardstore.BadgerOptions{Dir: st.BadgerDir})
				if err != nil {
					return err
				}
				if err := s.Close(); err != nil {
					return err
				}
				fmt.Fprintf(out, "badger store ready in %s\n", st.BadgerDir)
			default:
				fmt.Fprintln(out, "memory backend: nothing to migrate")
			}
			return nil
		},
	}
}
