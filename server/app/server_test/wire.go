//go:build wireinject
// +build wireinject

package server_test

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/wire"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/rest"
	"github.com/lyonslab/yerba/server/app"
	"github.com/lyonslab/yerba/server/services"
	"github.com/lyonslab/yerba/server/services/notify"
	"github.com/lyonslab/yerba/server/services/scheduler"
	"github.com/lyonslab/yerba/server/services/workflow"
	"github.com/lyonslab/yerba/server/store"
	"github.com/lyonslab/yerba/server/store/migrations"
)

func New(config *app.ServerConfig) (*TestServer, func(), error) {
	panic(wire.Build(
		NewTestServer,
		context.Background,
		wire.FieldsOf(new(*app.ServerConfig),
			"ListenAddr", "MonitorAddr", "DatabaseConfig", "QueueConfig", "ReportInterval", "LogLevels", "LogFilePath"),

		store.NewDatabase,
		migrations.NewYerbaMigrateRunner,
		wire.Bind(new(store.MigrationRunner), new(*migrations.GolangMigrateRunner)),
		app.MakeWorkflowStore,

		notify.NewBus,
		workflow.NewOperatorLog,
		workflow.NewWorkflowService,
		wire.Bind(new(services.WorkflowService), new(*workflow.WorkflowService)),
		scheduler.NewSchedulerService,
		app.MakeWorkQueue,
		app.MakeManager,

		msg.NewRouter,
		app.NewEngine,
		app.MakeSocketServer,
		wire.Bind(new(rest.Engine), new(*app.Engine)),
		rest.NewWorkflowAPI,
		rest.NewEventAPI,
		rest.NewMonitorRouter,
		app.MakeMonitorServer,

		logger.NewLogRegistry,
		app.MakeLogFactory,
		clock.New,
	))
}
