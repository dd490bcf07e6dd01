package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/lyonslab/yerba/common/gerror"
	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/util"
	"github.com/lyonslab/yerba/server/services/notify"
)

// subscriberBufferSize is how many events a stream may fall behind before
// the broker starts dropping events for it.
const subscriberBufferSize = 16

// EventAPI streams workflow status transitions to monitor clients over
// server-sent events. It subscribes to the daemon's event bus during
// wiring; HandleEvent runs on the engine goroutine, so it must never
// block on a slow client.
type EventAPI struct {
	*APIBase

	// subscribers maps a connected stream's channel to its presence
	subscribers      map[chan WorkflowEvent]bool
	subscribersMutex sync.Mutex // just for subscribers
}

func NewEventAPI(logFactory logger.LogFactory) *EventAPI {
	return &EventAPI{
		APIBase:     NewAPIBase(logFactory("EventAPI")),
		subscribers: make(map[chan WorkflowEvent]bool),
	}
}

// HandleEvent forwards workflow status transitions to every connected
// stream. Other bus events are ignored.
func (a *EventAPI) HandleEvent(event notify.Event) {
	changed, ok := event.(notify.StatusChanged)
	if !ok {
		return
	}
	workflowEvent := WorkflowEvent{ID: changed.WorkflowID, Status: changed.Status.Name()}
	a.subscribersMutex.Lock()
	defer a.subscribersMutex.Unlock()
	for subscriber := range a.subscribers {
		select {
		case subscriber <- workflowEvent:
		default:
			a.Warnf("An event stream is not keeping up; dropping an event for workflow %d", changed.WorkflowID)
		}
	}
}

// Stream serves one server-sent event connection until the client hangs up
// or the server shuts down. Each status transition is written as an event
// named "workflow".
func (a *EventAPI) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.Error(w, r, gerror.NewErrInternal())
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	out := util.NewFlushingWriter(w, flusher)

	events, unsubscribe := a.subscribe()
	defer unsubscribe()
	a.Debugf("An event stream connected from %s", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			a.Debugf("The event stream from %s disconnected", r.RemoteAddr)
			return
		case event := <-events:
			data, err := json.Marshal(event)
			if err != nil {
				a.Errorf("Failed to encode a workflow event: %v", err)
				continue
			}
			fmt.Fprintf(out, "event: workflow\ndata: %s\n\n", data)
		}
	}
}

func (a *EventAPI) subscribe() (chan WorkflowEvent, func()) {
	events := make(chan WorkflowEvent, subscriberBufferSize)
	a.subscribersMutex.Lock()
	a.subscribers[events] = true
	a.subscribersMutex.Unlock()
	return events, func() {
		a.subscribersMutex.Lock()
		delete(a.subscribers, events)
		a.subscribersMutex.Unlock()
	}
}
