package notify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
)

type pingEvent struct {
	n int
}

func (pingEvent) event() {}

type captureHandler struct {
	name string
	log  *[]string
	// onPing lets a test publish follow-up events from inside a drain.
	onPing func(e pingEvent)
}

func (h *captureHandler) HandleEvent(event Event) {
	*h.log = append(*h.log, fmt.Sprintf("%s:%v", h.name, event))
	if e, ok := event.(pingEvent); ok && h.onPing != nil {
		h.onPing(e)
	}
}

func newTestBus() *Bus {
	registry, _ := logger.NewLogRegistry("")
	return NewBus(logger.MakeLogrusLogFactoryStdOut(registry))
}

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := newTestBus()
	var log []string
	first := &captureHandler{name: "first", log: &log}
	second := &captureHandler{name: "second", log: &log}
	bus.Register(first)
	bus.Register(second)

	bus.Publish(pingEvent{n: 1})
	bus.Publish(pingEvent{n: 2})
	require.Empty(t, log, "nothing is delivered before a drain")

	bus.Drain()
	assert.Equal(t, []string{
		"first:{1}",
		"second:{1}",
		"first:{2}",
		"second:{2}",
	}, log)
}

func TestBusDeliversEventsPublishedWhileDraining(t *testing.T) {
	bus := newTestBus()
	var log []string
	handler := &captureHandler{name: "h", log: &log}
	handler.onPing = func(e pingEvent) {
		if e.n == 1 {
			bus.Publish(pingEvent{n: 2})
		}
	}
	bus.Register(handler)

	bus.Publish(pingEvent{n: 1})
	bus.Drain()
	assert.Equal(t, []string{"h:{1}", "h:{2}"}, log)
}

func TestBusUnregister(t *testing.T) {
	bus := newTestBus()
	var log []string
	handler := &captureHandler{name: "h", log: &log}
	bus.Register(handler)

	bus.Publish(pingEvent{n: 1})
	bus.Drain()
	require.Len(t, log, 1)

	bus.Unregister(handler)
	bus.Publish(pingEvent{n: 2})
	bus.Drain()
	assert.Len(t, log, 1)

	// Unregistering an unknown handler is harmless.
	bus.Unregister(&captureHandler{name: "other", log: &log})
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := newTestBus()
	var log []string
	bus.Register(&captureHandler{name: "h", log: &log})

	for i := 0; i < queueSize+10; i++ {
		bus.Publish(pingEvent{n: i})
	}
	bus.Drain()
	assert.Len(t, log, queueSize, "overflow events are dropped, not queued")
}

func TestBusCarriesTaskEvents(t *testing.T) {
	bus := newTestBus()
	var received []Event
	handler := &captureHandler{name: "h", log: new([]string)}
	bus.Register(handler)

	recorder := HandlerFunc(func(event Event) { received = append(received, event) })
	bus.Register(recorder)

	job := &models.Job{Cmd: "echo"}
	bus.Publish(ScheduleTask{WorkflowID: 1, Jobs: []*models.Job{job}, Priority: 2})
	bus.Publish(TaskDone{WorkflowID: 1, Job: job, Info: models.JobInfo{Returned: 0}})
	bus.Publish(CancelTask{WorkflowID: 1})
	bus.Drain()

	require.Len(t, received, 3)
	schedule, ok := received[0].(ScheduleTask)
	require.True(t, ok)
	assert.Equal(t, models.WorkflowID(1), schedule.WorkflowID)
	assert.Equal(t, 2, schedule.Priority)
	done, ok := received[1].(TaskDone)
	require.True(t, ok)
	assert.Same(t, job, done.Job)
	_, ok = received[2].(CancelTask)
	require.True(t, ok)
}
