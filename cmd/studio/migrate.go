package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Borui-Eduation/student-records-sub000/internal/adapter/persistence"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or revert the Postgres schema migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(persistence.MigrateUp), string(persistence.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := persistence.MigrationDirection(args[0])
			if direction != persistence.MigrateUp && direction != persistence.MigrateDown {
				return fmt.Errorf("unknown migration direction: %s", args[0])
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg, true)
			ctx := cmd.Context()

			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := persistence.Migrate(ctx, db, direction)
			for _, name := range applied {
				log.Info(ctx, "Migration applied", map[string]interface{}{"file": name, "direction": string(direction)})
			}
			if err != nil {
				log.Error(ctx, "Migration failed", err, nil)
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations to run")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", len(applied))
			return nil
		},
	}
}
