package notify

import (
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
)

// queueSize bounds the number of events waiting to be drained. The engine
// drains between every request and on every service tick, so the queue only
// fills if the loop itself has stalled.
const queueSize = 1024

// Event is a notification passed between daemon services through the Bus.
type Event interface {
	event()
}

// ScheduleTask asks the scheduler to run a workflow's ready jobs on the
// work queue.
type ScheduleTask struct {
	WorkflowID models.WorkflowID
	Jobs       []*models.Job
	Priority   int
}

func (ScheduleTask) event() {}

// CancelTask withdraws a workflow's interest in its outstanding tasks.
// Tasks shared with other workflows keep running.
type CancelTask struct {
	WorkflowID models.WorkflowID
}

func (CancelTask) event() {}

// TaskDone reports a finished task back to the workflow that owns job.
// Info is delivered by value so each subscriber gets its own copy.
type TaskDone struct {
	WorkflowID models.WorkflowID
	Job        *models.Job
	Info       models.JobInfo
}

func (TaskDone) event() {}

// StatusChanged announces that a workflow's recorded status moved.
// Consumed by the monitor API's event stream.
type StatusChanged struct {
	WorkflowID models.WorkflowID
	Status     models.Status
}

func (StatusChanged) event() {}

// Handler consumes events drained from the Bus.
type Handler interface {
	HandleEvent(event Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(event Event)

func (f HandlerFunc) HandleEvent(event Event) {
	f(event)
}

// Bus carries events between services. Publish may be called from any
// service; Register, Unregister and Drain are called only from the engine
// goroutine, and handlers run on that goroutine in registration order.
type Bus struct {
	queue    chan Event
	handlers []Handler
	logger.Log
}

func NewBus(logFactory logger.LogFactory) *Bus {
	return &Bus{
		queue: make(chan Event, queueSize),
		Log:   logFactory("EventBus"),
	}
}

// Register appends a handler to the delivery order. Registering the same
// handler twice delivers every event to it twice.
func (b *Bus) Register(handler Handler) {
	b.handlers = append(b.handlers, handler)
}

// Unregister removes a previously registered handler. Unknown handlers are
// ignored.
func (b *Bus) Unregister(handler Handler) {
	for i, registered := range b.handlers {
		if registered == handler {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish enqueues an event for the next Drain. A full queue drops the
// event with an error log rather than blocking the caller.
func (b *Bus) Publish(event Event) {
	select {
	case b.queue <- event:
	default:
		b.Errorf("Event queue is full; dropping %T", event)
	}
}

// Drain delivers queued events to every handler in registration order until
// the queue is empty. Handlers may publish further events while draining;
// those are delivered in the same pass.
func (b *Bus) Drain() {
	for {
		select {
		case event := <-b.queue:
			for _, handler := range b.handlers {
				handler.HandleEvent(event)
			}
		default:
			return
		}
	}
}
