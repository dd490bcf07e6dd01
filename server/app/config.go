package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/server/store"
	"github.com/lyonslab/yerba/workqueue"
)

const (
	// DefaultListenAddr is where the daemon answers framed workflow requests.
	DefaultListenAddr = "127.0.0.1:5151"
	// DefaultReportInterval is how often the engine logs its operational report.
	DefaultReportInterval = 300 * time.Second

	defaultDatabaseFile = "yerba.db"
	defaultQueueLogFile = "queue.txn"
)

// LogSafeFlags is a list of flags by name whose values are safe to log.
var LogSafeFlags = []string{
	"listen-addr",
	"monitor-addr",
	"data-dir",
	"db-driver",
	"db-start-index",
	"project",
	"catalog-server",
	"catalog-port",
	"queue-port",
	"queue-log",
	"queue-workers",
	"queue-debug",
	"report-interval",
	"log-levels",
	"log-file",
}

// ListenAddr is the TCP address of the message socket.
type ListenAddr string

// MonitorAddr is the TCP address of the read-only monitor API. Empty
// disables the monitor.
type MonitorAddr string

type ServerConfig struct {
	ListenAddr  ListenAddr
	MonitorAddr MonitorAddr
	// DataDir is the directory holding the daemon's database, queue
	// transaction log and lock file.
	DataDir string
	// DBStartIndex seeds workflow numbering on a fresh database so the
	// first workflow created is assigned DBStartIndex+1.
	DBStartIndex int64
	// ReportInterval is how often the engine logs its operational report.
	ReportInterval ReportInterval
	DatabaseConfig store.DatabaseConfig
	QueueConfig    workqueue.Config
	LogLevels      logger.LogLevelConfig
	// LogFilePath sends daemon logs to a file instead of stdout when set.
	LogFilePath logger.LogFilePath
}

func ConfigFromFlags() (*ServerConfig, error) {
	var (
		listenAddr               string
		monitorAddr              string
		databaseDriverStr        string
		databaseConnectionString string
		queueLogPath             string
		logLevels                string
		logFilePath              string
	)

	config := &ServerConfig{}

	flag.StringVar(&listenAddr, "listen-addr",
		DefaultListenAddr, "The interface and port to answer workflow requests on.")
	flag.StringVar(&monitorAddr, "monitor-addr",
		"", "The interface and port to serve the read-only monitor API on. Empty disables the monitor.")
	flag.StringVar(&config.DataDir, "data-dir",
		"", "The directory holding the daemon's database and queue log. Defaults to ~/.yerba.")

	// Database
	flag.StringVar(&databaseDriverStr, "db-driver",
		string(store.Sqlite), "The database driver to use (i.e sqlite3|postgres)")
	flag.StringVar(&databaseConnectionString, "db-connection-string",
		"", "The connection string for the database. Defaults to a sqlite file under the data directory.")
	flag.Int64Var(&config.DBStartIndex, "db-start-index",
		0, "Seed workflow numbering so the first workflow is assigned this index plus one. Ignored once workflows exist.")

	// Work queue
	flag.StringVar(&config.QueueConfig.Project, "project",
		"yerba", "The project name the work queue is advertised under.")
	flag.StringVar(&config.QueueConfig.CatalogServer, "catalog-server",
		"", "The host of a catalog server to advertise the work queue to. Empty disables advertisement.")
	flag.IntVar(&config.QueueConfig.CatalogPort, "catalog-port",
		workqueue.DefaultCatalogPort, "The port of the catalog server.")
	flag.IntVar(&config.QueueConfig.Port, "queue-port",
		-1, "The TCP port the work queue listens on for workers. Set to -1 to pick a free port.")
	flag.StringVar(&queueLogPath, "queue-log",
		"", "The path of the work queue transaction log. Defaults to queue.txn under the data directory.")
	flag.IntVar(&config.QueueConfig.Workers, "queue-workers",
		0, "The number of workers executing tasks. 0 means one per CPU.")
	flag.BoolVar(&config.QueueConfig.Debug, "queue-debug",
		false, "True to log every work queue task transition.")

	// Misc
	reportInterval := flag.Duration("report-interval",
		DefaultReportInterval, "How often the daemon logs its operational report.")
	flag.StringVar(&logLevels, "log-levels",
		"", fmt.Sprintf("A comma separated list of name=level pairs where name is the name of the logger and level is one of: %s", logger.ListLogLevels()))
	flag.StringVar(&logFilePath, "log-file",
		"", "The path of a file to write daemon logs to. Empty logs to stdout.")
	flag.Parse()

	// Data directory
	if config.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			config.DataDir = fallbackDataDir
		} else {
			config.DataDir = filepath.Join(home, ".yerba")
		}
	}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating data directory %q: %w", config.DataDir, err)
	}

	// Database
	if databaseConnectionString == "" {
		databaseConnectionString = SQLiteConnectionString(config.DataDir)
	}
	config.DatabaseConfig = store.DatabaseConfig{
		Driver:             store.DBDriver(databaseDriverStr),
		ConnectionString:   store.DatabaseConnectionString(databaseConnectionString),
		MaxIdleConnections: store.DefaultDatabaseMaxIdleConnections,
		MaxOpenConnections: store.DefaultDatabaseMaxOpenConnections,
	}

	// Work queue
	if queueLogPath == "" {
		queueLogPath = filepath.Join(config.DataDir, defaultQueueLogFile)
	}
	config.QueueConfig.LogPath = queueLogPath

	// Misc
	config.ListenAddr = ListenAddr(listenAddr)
	config.MonitorAddr = MonitorAddr(monitorAddr)
	config.ReportInterval = ReportInterval(*reportInterval)
	config.LogLevels = logger.LogLevelConfig(logLevels)
	config.LogFilePath = logger.LogFilePath(logFilePath)

	return config, nil
}

// SQLiteConnectionString returns the connection string for the daemon's
// sqlite database under dataDir.
func SQLiteConnectionString(dataDir string) string {
	return fmt.Sprintf("file:%s?cache=shared&_foreign_keys=1", filepath.Join(dataDir, defaultDatabaseFile))
}

// LockFilePath returns the path of the daemon's single-instance lock file.
func LockFilePath(dataDir string) string {
	return filepath.Join(dataDir, "yerbad.lock")
}
