package workqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/lyonslab/yerba/common/logger"
)

const (
	// DefaultAnnounceInterval is how often the queue advertises itself to the
	// catalog server unless configured otherwise.
	DefaultAnnounceInterval = time.Minute
	// DefaultCatalogPort is the port catalog servers conventionally listen on.
	DefaultCatalogPort = 9097
)

// catalogUpdate is the document advertised to the catalog server so that
// monitoring tools can discover running queues.
type catalogUpdate struct {
	Type            string `json:"type"`
	Project         string `json:"project"`
	Port            int    `json:"port"`
	StartTime       int64  `json:"start_time"`
	TasksWaiting    int    `json:"tasks_waiting"`
	TasksRunning    int    `json:"tasks_running"`
	TasksComplete   int    `json:"tasks_complete"`
	TasksDispatched int    `json:"tasks_dispatched"`
	Workers         int    `json:"workers"`
	WorkersBusy     int    `json:"workers_busy"`
}

// announceLoop advertises the queue to the catalog server once at startup and
// then on every announce interval, until the queue shuts down.
func (q *LocalQueue) announceLoop() {
	defer q.wg.Done()
	// Cancel any in-flight announcement when the queue shuts down so that
	// retries against an unreachable catalog don't hold up Shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-q.stopC
		cancel()
	}()
	client := retryablehttp.NewClient()
	client.RetryWaitMin = time.Millisecond * 100
	client.RetryWaitMax = time.Second * 5
	client.RetryMax = 3
	client.Logger = newLeveledLogger(q.Log) // use adaptor to get log level support
	endpoint := fmt.Sprintf("http://%s:%d/update", q.config.CatalogServer, q.config.CatalogPort)
	ticker := q.clk.Ticker(q.config.AnnounceInterval)
	defer ticker.Stop()
	for {
		q.announce(ctx, client, endpoint)
		select {
		case <-q.stopC:
			return
		case <-ticker.C:
		}
	}
}

func (q *LocalQueue) announce(ctx context.Context, client *retryablehttp.Client, endpoint string) {
	stats := q.Stats()
	update := &catalogUpdate{
		Type:            "wq_master",
		Project:         q.config.Project,
		Port:            q.port,
		StartTime:       stats.StartTime,
		TasksWaiting:    stats.TasksWaiting,
		TasksRunning:    stats.TasksRunning,
		TasksComplete:   stats.TotalTasksComplete,
		TasksDispatched: stats.TotalTasksDispatched,
		Workers:         stats.WorkersInit + stats.WorkersReady + stats.WorkersBusy + stats.WorkersFull,
		WorkersBusy:     stats.WorkersBusy,
	}
	buf, err := json.Marshal(update)
	if err != nil {
		q.Warnf("Failed to marshal catalog update: %v", err)
		return
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		q.Warnf("Failed to create catalog update request: %v", err)
		return
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		q.Debugf("Failed to advertise work queue to catalog server at %s: %v", endpoint, err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		q.Debugf("Catalog server at %s returned status %d", endpoint, res.StatusCode)
		return
	}
	q.Tracef("Advertised work queue %q to catalog server at %s", q.config.Project, endpoint)
}

type leveledLoggerWrapper struct {
	realLogger logger.Log
}

// newLeveledLogger provides a LeveledLogger interface on top of the standard
// logging interface, so the retryable client can log at appropriate levels.
func newLeveledLogger(realLogger logger.Log) retryablehttp.LeveledLogger {
	return &leveledLoggerWrapper{realLogger: realLogger}
}

func (l *leveledLoggerWrapper) Error(msg string, keysAndValues ...interface{}) {
	l.realLogger.Error(convertMsg(msg, keysAndValues))
}

func (l *leveledLoggerWrapper) Info(msg string, keysAndValues ...interface{}) {
	l.realLogger.Info(convertMsg(msg, keysAndValues))
}

func (l *leveledLoggerWrapper) Debug(msg string, keysAndValues ...interface{}) {
	l.realLogger.Debug(convertMsg(msg, keysAndValues))
}

func (l *leveledLoggerWrapper) Warn(msg string, keysAndValues ...interface{}) {
	l.realLogger.Warn(convertMsg(msg, keysAndValues))
}

func convertMsg(msg string, keysAndValues []interface{}) string {
	if len(keysAndValues) == 0 {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, keysAndValues)
}
