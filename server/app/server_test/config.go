package server_test

import (
	"path/filepath"
	"testing"

	"github.com/lyonslab/yerba/server/app"
	"github.com/lyonslab/yerba/server/store"
	"github.com/lyonslab/yerba/workqueue"
)

func TestConfig(t *testing.T) *app.ServerConfig {
	// Keep the database, queue log and lock file in a temp directory
	dataDir := t.TempDir()

	return &app.ServerConfig{
		ListenAddr:  "127.0.0.1:0", // both listeners pick free ports
		MonitorAddr: "127.0.0.1:0",
		DataDir:     dataDir,
		DatabaseConfig: store.DatabaseConfig{
			Driver: store.Sqlite,
			// The database is a file rather than in-memory so a test can
			// tear a server down and start another on the same state
			ConnectionString:   store.DatabaseConnectionString(app.SQLiteConnectionString(dataDir)),
			MaxIdleConnections: store.DefaultDatabaseMaxIdleConnections,
			MaxOpenConnections: store.DefaultDatabaseMaxOpenConnections,
		},
		QueueConfig: workqueue.Config{
			Project: "yerba-test",
			Port:    -1,
			Workers: 2,
			LogPath: filepath.Join(dataDir, "queue.txn"),
		},
		ReportInterval: app.ReportInterval(app.DefaultReportInterval),
		LogLevels:      "",
	}
}
