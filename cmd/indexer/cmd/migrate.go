package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"fhirindex/internal/config"
	"fhirindex/internal/store/postgres"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down [steps]|version]",
	Short: "Manage the job store schema",
	Long: `Apply, roll back or inspect the embedded database migrations.
Only database_url (DATABASE_URL) needs to be configured.`,
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(cfgFile)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("database_url is required (env: DATABASE_URL)")
		}

		steps := 1
		if len(args) == 2 {
			if args[0] != "down" {
				return fmt.Errorf("%s does not take a step count", args[0])
			}
			steps, err = strconv.Atoi(args[1])
			if err != nil || steps <= 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
		}

		store, err := postgres.Open(cmd.Context(), cfg.DatabaseURL, postgres.Options{MaxOpenConns: 2})
		if err != nil {
			return err
		}
		defer store.Close()

		switch args[0] {
		case "up":
			if err := postgres.Migrate(store.DB()); err != nil {
				return err
			}
			cmd.Println("Migrations applied")
		case "down":
			if err := postgres.MigrateDown(store.DB(), steps); err != nil {
				return err
			}
			cmd.Printf("Rolled back %d migration(s)\n", steps)
		case "version":
			v, dirty, err := postgres.MigrationVersion(store.DB())
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			cmd.Printf("Schema version %d (%s)\n", v, state)
		default:
			return fmt.Errorf("unknown migrate command %q", args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
