package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"cineshelf/config"
	"cineshelf/storage"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dataPath string
	verbose  bool

	sqliteStorage *storage.SQLiteStorage
	logger        *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "migrate",
	Short:         "Manage the cineshelf database schema",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger, _ = zap.NewDevelopment()
		} else {
			logger = zap.NewNop()
		}
		if dataPath == "" {
			dataPath = config.Default().DataPath
		}
		sqliteStorage = storage.NewSQLiteStorage(dataPath, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sqliteStorage != nil {
			sqliteStorage.Close()
		}
		_ = logger.Sync()
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sqliteStorage.RunMigrations(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sqliteStorage.RollbackMigration(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migration rolled back successfully")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := sqliteStorage.GetMigrationManager()
		if err != nil {
			return err
		}
		statuses, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), statuses)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := sqliteStorage.GetDatabaseVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database version: %d\n", version)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop every table and migrate again",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := sqliteStorage.ResetDatabase(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset completed successfully")
		return nil
	},
}

func printStatus(out io.Writer, statuses []storage.MigrationStatus) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tMIGRATION\tAPPLIED AT\t")
	for _, st := range statuses {
		applied := "pending"
		if st.Applied {
			applied = st.AppliedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t\n", st.Version, st.Name, applied)
	}
	w.Flush()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataPath, "data", os.Getenv("DATA_PATH"), "Path to database directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log migration progress")

	rootCmd.AddCommand(upCmd, downCmd, statusCmd, versionCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
