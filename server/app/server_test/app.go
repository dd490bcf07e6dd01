package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/msg/client"
	"github.com/lyonslab/yerba/server/api/rest"
	"github.com/lyonslab/yerba/server/app"
	"github.com/lyonslab/yerba/server/services"
	"github.com/lyonslab/yerba/server/services/notify"
	"github.com/lyonslab/yerba/server/services/scheduler"
	"github.com/lyonslab/yerba/server/services/workflow"
	"github.com/lyonslab/yerba/server/store"
	"github.com/lyonslab/yerba/workqueue"
)

type TestServer struct {
	DB               *store.DB
	WorkflowStore    store.WorkflowStore
	WorkflowService  *workflow.WorkflowService
	SchedulerService *scheduler.SchedulerService
	Queue            workqueue.Queue
	Bus              *notify.Bus
	Manager          *services.Manager
	LogFactory       logger.LogFactory

	Engine        *app.Engine
	SocketServer  *msg.SocketServer
	MonitorServer *rest.MonitorServer
}

func NewTestServer(
	db *store.DB,
	workflowStore store.WorkflowStore,
	workflowService *workflow.WorkflowService,
	schedulerService *scheduler.SchedulerService,
	queue workqueue.Queue,
	bus *notify.Bus,
	manager *services.Manager,
	logFactory logger.LogFactory,
	engine *app.Engine,
	socketServer *msg.SocketServer,
	monitorServer *rest.MonitorServer,
) *TestServer {
	return &TestServer{
		DB:               db,
		WorkflowStore:    workflowStore,
		WorkflowService:  workflowService,
		SchedulerService: schedulerService,
		Queue:            queue,
		Bus:              bus,
		Manager:          manager,
		LogFactory:       logFactory,
		Engine:           engine,
		SocketServer:     socketServer,
		MonitorServer:    monitorServer,
	}
}

const stopTimeout = 30 * time.Second

// Start brings the daemon up the way main does: services first, then the
// engine loop, then the listeners.
func (s *TestServer) Start(t *testing.T) {
	err := s.Engine.Start()
	require.NoError(t, err, "Error starting engine services")
	go s.Engine.Run()
	err = s.SocketServer.Start()
	require.NoError(t, err, "Error starting message socket")
	err = s.MonitorServer.Start()
	require.NoError(t, err, "Error starting monitor server")
}

// Stop tears the daemon down in main's order. Safe to call after the
// engine has already exited from a client shutdown request.
func (s *TestServer) Stop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := s.MonitorServer.Stop(ctx)
	require.NoError(t, err, "Error stopping monitor server")
	s.SocketServer.Stop()
	s.Engine.Shutdown()
}

// SocketAddr is the address the message socket is listening on. Only valid
// after Start.
func (s *TestServer) SocketAddr() string {
	return s.SocketServer.Addr().String()
}

// Client returns a message socket client for this server, closed when the
// test finishes.
func (s *TestServer) Client(t *testing.T) *client.Client {
	c := client.NewClient(s.SocketAddr(), s.LogFactory)
	t.Cleanup(func() { c.Close() })
	return c
}
