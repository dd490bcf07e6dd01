package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/app"
	"github.com/lyonslab/yerba/server/cmd/yerba-tools/cli"
	"github.com/lyonslab/yerba/server/cmd/yerba-tools/commands"
	"github.com/lyonslab/yerba/server/store"
	"github.com/lyonslab/yerba/server/store/workflows"
)

func init() {
	dumpRootCmd.PersistentFlags().StringVar(
		&dumpCmdConfig.databaseDriver,
		"driver",
		string(store.Sqlite),
		"The Database Driver to use for fetching data (i.e sqlite3|postgres)")
	dumpRootCmd.PersistentFlags().StringVar(
		&dumpCmdConfig.databaseConnectionString,
		"connection",
		defaultSQLiteConnectionString(),
		"The connection string for the database to use for fetching data")

	commands.RootCmd.AddCommand(dumpRootCmd)
	dumpRootCmd.AddCommand(dumpAllWorkflowsCmd)
	dumpRootCmd.AddCommand(dumpWorkflowCmd)
}

var dumpCmdConfig = struct {
	databaseConfig           store.DatabaseConfig
	databaseDriver           string
	databaseConnectionString string
	logFactory               logger.LogFactory
	db                       *store.DB
	dbCleanup                func()
	workflowStore            store.WorkflowStore
}{}

// defaultSQLiteConnectionString points at the database the daemon itself
// would open under ~/.yerba.
func defaultSQLiteConnectionString() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return app.SQLiteConnectionString(".yerba")
	}
	return app.SQLiteConnectionString(filepath.Join(home, ".yerba"))
}

var dumpRootCmd = &cobra.Command{
	Use:   "dump (command)",
	Short: "Dumps stored workflows from the database",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dumpCmdConfig.databaseConfig = store.DatabaseConfig{
			ConnectionString:   store.DatabaseConnectionString(dumpCmdConfig.databaseConnectionString),
			Driver:             store.DBDriver(dumpCmdConfig.databaseDriver),
			MaxIdleConnections: store.DefaultDatabaseMaxIdleConnections,
			MaxOpenConnections: store.DefaultDatabaseMaxOpenConnections,
		}

		// stores need a log factory; use a very plain log format
		logLevels := logger.LogLevelConfig("")
		if commands.Global.Debug {
			logLevels = "WorkflowStore=debug"
		}
		logRegistry, err := logger.NewLogRegistry(logLevels)
		if err != nil {
			return err
		}
		logFactory := logger.MakeLogrusLogFactoryStdOutPlain(logRegistry)
		dumpCmdConfig.logFactory = logFactory

		// open the database but do not perform migrations
		db, cleanup, err := store.NewDatabase(context.Background(), dumpCmdConfig.databaseConfig, nil)
		if err != nil {
			return fmt.Errorf("error opening %s database for dump: %w", dumpCmdConfig.databaseConfig.Driver, err)
		}
		dumpCmdConfig.db = db
		dumpCmdConfig.dbCleanup = cleanup

		dumpCmdConfig.workflowStore = workflows.NewStore(db, logFactory)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dumpCmdConfig.dbCleanup != nil {
			dumpCmdConfig.dbCleanup()
			dumpCmdConfig.dbCleanup = nil
		}
	},
}

var dumpAllWorkflowsCmd = &cobra.Command{
	Use:           "all-workflows",
	Short:         "Dumps a list of all workflows in the database",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return dumpCmdConfig.db.WithTx(ctx, nil, func(tx *store.Tx) error {
			cli.Stdout.Printf("\nALL WORKFLOWS\n\n")
			summaries, err := dumpCmdConfig.workflowStore.Fetch(ctx, tx, nil)
			if err != nil {
				return fmt.Errorf("error reading list of all workflows: %w", err)
			}
			for _, summary := range summaries {
				completed := "-"
				if summary.Completed != nil {
					completed = summary.Completed.String()
				}
				cli.Stdout.Printf("%d: Name '%s', status '%s', submitted %s, completed %s",
					summary.ID, summary.Name, summary.Status.Name(), summary.Submitted.String(), completed)
			}
			cli.Stdout.Printf("\n")
			return nil
		})
	},
}

var dumpWorkflowCmd = &cobra.Command{
	Use:           "workflow id",
	Short:         "Dumps the contents of the workflow with the specified id, from the database",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("error: workflow id must be a valid number")
		}

		record, err := dumpCmdConfig.workflowStore.Get(context.Background(), nil, models.WorkflowID(id))
		if err != nil {
			return fmt.Errorf("error reading workflow %d: %w", id, err)
		}

		cli.Stdout.Printf("Workflow %d:", record.ID)
		cli.Stdout.Printf("  Name: %s", record.Name)
		cli.Stdout.Printf("  Priority: %d", record.Priority)
		cli.Stdout.Printf("  Logfile: %s", record.Logfile)
		cli.Stdout.Printf("  Submitted: %s", record.Submitted.String())
		if record.Completed != nil {
			cli.Stdout.Printf("  Completed: %s", record.Completed.String())
		} else {
			cli.Stdout.Printf("  Completed: -")
		}
		cli.Stdout.Printf("  Status: %s", record.Status.Name())

		var jobs bytes.Buffer
		err = json.Indent(&jobs, record.Jobs, "  ", "  ")
		if err != nil {
			return fmt.Errorf("error formatting jobs for workflow %d: %w", id, err)
		}
		cli.Stdout.Printf("  Jobs: %s", jobs.String())

		return nil
	},
}
