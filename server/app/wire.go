//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/wire"
	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/rest"
	"github.com/lyonslab/yerba/server/services"
	"github.com/lyonslab/yerba/server/services/notify"
	"github.com/lyonslab/yerba/server/services/scheduler"
	"github.com/lyonslab/yerba/server/services/workflow"
	"github.com/lyonslab/yerba/server/store"
	"github.com/lyonslab/yerba/server/store/migrations"
	"github.com/lyonslab/yerba/server/store/workflows"
	"github.com/lyonslab/yerba/workqueue"
)

// MakeLogFactory creates a log factory writing to the configured file, or
// to stdout when no file is set.
func MakeLogFactory(registry *logger.LogRegistry, filePath logger.LogFilePath) (logger.LogFactory, error) {
	if filePath == "" {
		return logger.MakeLogrusLogFactoryStdOut(registry), nil
	}
	return logger.MakeLogrusLogFactoryToFile(registry, filePath)
}

// MakeWorkflowStore creates the workflow table accessor and applies the
// configured id start index while the database is still fresh.
func MakeWorkflowStore(ctx context.Context, db *store.DB, config *ServerConfig, logFactory logger.LogFactory) (store.WorkflowStore, error) {
	workflowStore := workflows.NewStore(db, logFactory)
	if config.DBStartIndex > 0 {
		if err := workflowStore.SetStartIndex(ctx, nil, config.DBStartIndex); err != nil {
			return nil, errors.Wrap(err, "error setting the workflow id start index")
		}
	}
	return workflowStore, nil
}

// MakeWorkQueue starts the work queue listening for workers. The queue is
// shut down by the app's cleanup function.
func MakeWorkQueue(config workqueue.Config, clk clock.Clock, logFactory logger.LogFactory) (workqueue.Queue, func(), error) {
	queue, err := workqueue.NewLocalQueue(config, clk, logFactory)
	if err != nil {
		return nil, nil, gerror.NewErrQueueUnavailable("The work queue could not be started.", err)
	}
	return queue, func() { queue.Shutdown() }, nil
}

// MakeManager registers the services the engine ticks, and subscribes the
// bus handlers in delivery order: workflow bookkeeping first, then the
// scheduler, then the monitor's event stream.
func MakeManager(
	bus *notify.Bus,
	workflowService *workflow.WorkflowService,
	schedulerService *scheduler.SchedulerService,
	eventAPI *rest.EventAPI,
	logFactory logger.LogFactory,
) *services.Manager {
	manager := services.NewManager(logFactory)
	manager.Register(schedulerService)
	bus.Register(workflowService)
	bus.Register(schedulerService)
	bus.Register(eventAPI)
	return manager
}

// MakeSocketServer connects the message socket to the engine's request
// queue.
func MakeSocketServer(addr ListenAddr, engine *Engine, logFactory logger.LogFactory) *msg.SocketServer {
	return msg.NewSocketServer(string(addr), engine.Requests(), logFactory)
}

func MakeMonitorServer(addr MonitorAddr, router *rest.MonitorRouter, logFactory logger.LogFactory) *rest.MonitorServer {
	return rest.NewMonitorServer(string(addr), router, logFactory)
}

func New(ctx context.Context, config *ServerConfig) (*Server, func(), error) {
	panic(wire.Build(
		NewServer,
		wire.FieldsOf(new(*ServerConfig), "ListenAddr", "MonitorAddr", "DatabaseConfig", "QueueConfig", "ReportInterval", "LogLevels", "LogFilePath"),
		store.NewDatabase,
		migrations.NewYerbaMigrateRunner,
		wire.Bind(new(store.MigrationRunner), new(*migrations.GolangMigrateRunner)),

		// Stores
		MakeWorkflowStore,

		// Services
		notify.NewBus,
		workflow.NewOperatorLog,
		workflow.NewWorkflowService,
		wire.Bind(new(services.WorkflowService), new(*workflow.WorkflowService)),
		scheduler.NewSchedulerService,
		MakeWorkQueue,
		MakeManager,

		// APIs
		msg.NewRouter,
		NewEngine,
		MakeSocketServer,
		wire.Bind(new(rest.Engine), new(*Engine)),
		rest.NewWorkflowAPI,
		rest.NewEventAPI,
		rest.NewMonitorRouter,
		MakeMonitorServer,

		logger.NewLogRegistry,
		MakeLogFactory,
		clock.New,
	))
}
