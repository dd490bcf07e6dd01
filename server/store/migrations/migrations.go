package migrations

// DialectTemplate is used as the templating control for differing SQL syntax between our supported databases
type DialectTemplate struct {
	Binary            string
	IntegerPrimaryKey string
}

// MigrationSet provides a set of migrations that can be applied to a database.
type MigrationSet []MigrationData

// MigrationData provides the data for a single migration, including Up and Down SQL.
// Templated values are supported and will be substituted for database-specific values
// before the migrations are applied.
type MigrationData struct {
	SequenceNumber int64
	Name           string
	UpSQL          string
	DownSQL        string
}

// YerbaMigrations is the set of migrations to set up the database for the yerba daemon.
var YerbaMigrations = MigrationSet{
	{
		SequenceNumber: 1,
		Name:           "create_workflows",
		UpSQL: `CREATE TABLE IF NOT EXISTS workflows
				(
					workflow_id {{ .IntegerPrimaryKey}},
					workflow_name text NOT NULL,
					workflow_priority integer NOT NULL DEFAULT 0,
					workflow_logfile text NOT NULL DEFAULT '',
					workflow_jobs {{ .Binary}} NOT NULL,
					workflow_submitted timestamp without time zone NOT NULL,
					workflow_completed timestamp without time zone,
					workflow_status integer NOT NULL
				);
				CREATE INDEX IF NOT EXISTS workflows_status_index ON workflows(workflow_status);
				CREATE UNIQUE INDEX IF NOT EXISTS workflows_submitted_id_desc_unique_index ON workflows(
					workflow_submitted DESC,
					workflow_id DESC);`,
		DownSQL: `DROP INDEX workflows_submitted_id_desc_unique_index;
				  DROP INDEX workflows_status_index;
				  DROP TABLE workflows;`,
	},
}
