package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/server/services"
	"github.com/lyonslab/yerba/server/services/notify"
	"github.com/lyonslab/yerba/workqueue"
)

const (
	// serviceTickInterval paces service updates between requests.
	serviceTickInterval = 10 * time.Millisecond
	// requestQueueSize bounds the requests waiting for the engine.
	requestQueueSize = 64
)

// ReportInterval is how often the engine logs its operational report.
type ReportInterval time.Duration

// Engine is the daemon's single owner: every workflow mutation, service
// tick and request dispatch runs on its goroutine. Connection goroutines
// and the monitor API only exchange messages with it over the request
// channel.
type Engine struct {
	requests       chan *msg.Request
	router         *msg.Router
	manager        *services.Manager
	workflows      services.WorkflowService
	queue          workqueue.Queue
	bus            *notify.Bus
	clk            clock.Clock
	reportInterval time.Duration
	stopping       bool
	quitC          chan struct{}
	quitOnce       sync.Once
	doneC          chan struct{}
	logger.Log
}

func NewEngine(
	router *msg.Router,
	manager *services.Manager,
	workflowService services.WorkflowService,
	queue workqueue.Queue,
	bus *notify.Bus,
	clk clock.Clock,
	reportInterval ReportInterval,
	logFactory logger.LogFactory,
) *Engine {
	e := &Engine{
		requests:       make(chan *msg.Request, requestQueueSize),
		router:         router,
		manager:        manager,
		workflows:      workflowService,
		queue:          queue,
		bus:            bus,
		clk:            clk,
		reportInterval: time.Duration(reportInterval),
		quitC:          make(chan struct{}),
		doneC:          make(chan struct{}),
		Log:            logFactory("Engine"),
	}
	router.Handle(msg.RouteHealth, e.health)
	router.Handle(msg.RouteSchedule, e.scheduleWorkflow)
	router.Handle(msg.RouteCancel, e.cancelWorkflow)
	router.Handle(msg.RouteGetStatus, e.workflowStatus)
	router.Handle(msg.RouteWorkflows, e.listWorkflows)
	router.Handle(msg.RouteRestart, e.restartWorkflow)
	router.Handle(msg.RouteShutdown, e.shutdown)
	return e
}

// Requests is the channel the socket server feeds decoded requests into.
func (e *Engine) Requests() chan<- *msg.Request {
	return e.requests
}

// Start initializes the registered services and marks workflows orphaned
// by a previous daemon process as stopped. An error is fatal.
func (e *Engine) Start() error {
	if err := e.manager.Start(); err != nil {
		return err
	}
	if err := e.workflows.Cleanup(context.Background()); err != nil {
		e.Warnf("Failed to stop orphaned workflows: %v", err)
	}
	return nil
}

// Run processes requests and ticks until a client or Shutdown asks the
// daemon to stop. Per-request errors become status responses; nothing
// else escapes the loop.
func (e *Engine) Run() {
	defer close(e.doneC)
	serviceTick := e.clk.Ticker(serviceTickInterval)
	defer serviceTick.Stop()
	reportTick := e.clk.Ticker(e.reportInterval)
	defer reportTick.Stop()
	e.Infof("The engine is processing requests")
	for {
		select {
		case request := <-e.requests:
			e.handle(request)
			if e.stopping {
				e.stopServices()
				return
			}
		case <-serviceTick.C:
			e.manager.Update()
			e.bus.Drain()
		case <-reportTick.C:
			e.report()
		case <-e.quitC:
			e.stopServices()
			return
		}
	}
}

// Shutdown asks the engine loop to stop and returns once it has. Safe to
// call from any goroutine, any number of times.
func (e *Engine) Shutdown() {
	e.quitOnce.Do(func() { close(e.quitC) })
	<-e.doneC
}

// Done is closed once the engine loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.doneC
}

// Do submits a request into the engine's queue from another goroutine and
// waits for the response, so callers share the socket clients' serialized
// path. data is marshalled into the request envelope.
func (e *Engine) Do(ctx context.Context, route string, data interface{}) (interface{}, error) {
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "error encoding %q request", route)
	}
	request := &msg.Request{
		ID:       msg.NewRequestID(),
		Envelope: &documents.RequestEnvelope{Request: route, Data: buf},
		Reply:    make(chan interface{}, 1),
	}
	select {
	case e.requests <- request:
	case <-e.doneC:
		return nil, errors.New("the daemon is shutting down")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case response, ok := <-request.Reply:
		if !ok {
			return nil, errors.New("the daemon is shutting down")
		}
		return response, nil
	case <-e.doneC:
		return nil, errors.New("the daemon is shutting down")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handle dispatches one request and replies. Completions that arrived
// while handling are drained before the reply so a client that schedules
// and immediately asks for status sees its own writes.
func (e *Engine) handle(request *msg.Request) {
	response, err := e.router.Dispatch(context.Background(), request.Envelope)
	e.bus.Drain()
	if err != nil {
		e.Warnf("The request %s failed: %v", request.ID, err)
		response = &documents.StatusResponse{Status: models.StatusError.Name()}
	}
	if response == nil {
		// Shutdown: the connection hangs up instead of replying
		close(request.Reply)
		return
	}
	select {
	case request.Reply <- response:
	default:
		e.Warnf("Failed to send the response for request %s; dropping it", request.ID)
	}
}

func (e *Engine) stopServices() {
	e.Infof("The daemon is shutting down")
	if err := e.workflows.Cleanup(context.Background()); err != nil {
		e.Warnf("Failed to stop workflows during shutdown: %v", err)
	}
	e.manager.Stop()
}

func (e *Engine) health(ctx context.Context, data json.RawMessage) (interface{}, error) {
	e.Debugf("Health check")
	return &documents.StatusResponse{Status: documents.StatusOK}, nil
}

func (e *Engine) scheduleWorkflow(ctx context.Context, data json.RawMessage) (interface{}, error) {
	spec := &models.WorkflowSpec{}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, errors.Wrap(err, "error decoding workflow spec")
	}
	id, status, err := e.workflows.Submit(ctx, spec)
	if err != nil {
		var validationErr *models.ValidationError
		if gerror.IsValidationFailed(err) && errors.As(err, &validationErr) {
			return &documents.ScheduleResponse{
				Status: status.Name(),
				Errors: validationErr.JobErrors,
			}, nil
		}
		return nil, err
	}
	return &documents.ScheduleResponse{Status: status.Name(), ID: &id}, nil
}

func (e *Engine) cancelWorkflow(ctx context.Context, data json.RawMessage) (interface{}, error) {
	payload := &documents.IDRequest{}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, errors.Wrap(err, "error decoding cancel request")
	}
	status, err := e.workflows.Cancel(ctx, payload.ID)
	if err != nil && !gerror.IsNotFound(err) {
		return nil, err
	}
	e.Info(status.Message(payload.ID))
	return &documents.StatusResponse{Status: status.Name()}, nil
}

func (e *Engine) workflowStatus(ctx context.Context, data json.RawMessage) (interface{}, error) {
	payload := &documents.IDRequest{}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, errors.Wrap(err, "error decoding status request")
	}
	status, jobs, err := e.workflows.Status(ctx, payload.ID)
	if err != nil && !gerror.IsNotFound(err) {
		return nil, err
	}
	e.Info(status.Message(payload.ID))
	if jobs == nil {
		jobs = []map[string]interface{}{}
	}
	return &documents.StatusReportResponse{Status: status.Name(), Jobs: jobs}, nil
}

func (e *Engine) listWorkflows(ctx context.Context, data json.RawMessage) (interface{}, error) {
	payload := &documents.WorkflowsRequest{}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, errors.Wrap(err, "error decoding workflows request")
	}
	summaries, err := e.workflows.List(ctx, payload.IDs)
	if err != nil {
		return nil, err
	}
	rows := make([]documents.WorkflowRow, 0, len(summaries))
	for _, summary := range summaries {
		rows = append(rows, documents.MakeWorkflowRow(summary))
	}
	return &documents.WorkflowsResponse{Workflows: rows}, nil
}

func (e *Engine) restartWorkflow(ctx context.Context, data json.RawMessage) (interface{}, error) {
	payload := &documents.IDRequest{}
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, errors.Wrap(err, "error decoding restart request")
	}
	status, err := e.workflows.Restart(ctx, payload.ID)
	if err != nil && !gerror.IsNotFound(err) {
		return nil, err
	}
	e.Info(status.Message(payload.ID))
	return &documents.StatusResponse{Status: status.Name()}, nil
}

// shutdown stops the daemon. There is no response document: the engine
// closes the reply channel so the connection hangs up, then exits its
// loop.
func (e *Engine) shutdown(ctx context.Context, data json.RawMessage) (interface{}, error) {
	e.Infof("A client requested the daemon to shut down")
	e.stopping = true
	return nil, nil
}
