// Package watch_ui renders the progress of a running workflow in the
// terminal, either by polling the daemon's status route or by following
// the monitor's event stream.
package watch_ui

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/r3labs/sse"

	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg/client"
	"github.com/lyonslab/yerba/server/api/msg/documents"
	"github.com/lyonslab/yerba/server/api/rest"
	"github.com/lyonslab/yerba/yerba/cmd/yerba/cli"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	// eventVerifyInterval is the poll fallback while following events, in
	// case the workflow finished before the stream was subscribed.
	eventVerifyInterval = 10 * time.Second
)

// Options configures how a watch renders progress.
type Options struct {
	// Spinners draws one animated line per job; off, transitions print as
	// plain lines. Defaults to on when stdout is a terminal.
	Spinners bool
	// PollInterval is how often the daemon is asked for status.
	PollInterval time.Duration
	// Out receives plain output. Defaults to stdout.
	Out *log.Logger
}

func DefaultOptions() Options {
	return Options{
		Spinners:     isatty.IsTerminal(os.Stdout.Fd()),
		PollInterval: defaultPollInterval,
		Out:          cli.Stdout,
	}
}

type Watcher struct {
	client *client.Client
	opts   Options
}

func NewWatcher(c *client.Client, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Out == nil {
		opts.Out = cli.Stdout
	}
	return &Watcher{client: c, opts: opts}
}

// Watch polls the workflow until it reaches a terminal state, rendering
// per-job progress along the way, and returns the final status report.
func (w *Watcher) Watch(ctx context.Context, id models.WorkflowID) (*documents.StatusReportResponse, error) {
	var spinners *jobSpinners
	if w.opts.Spinners {
		spinners = newJobSpinners()
		defer spinners.Stop()
	}
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		report, err := w.client.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if spinners != nil {
			spinners.Update(report)
		} else if report.Status != lastStatus {
			w.opts.Out.Print(statusMessage(report.Status, id))
			lastStatus = report.Status
		}
		status, err := models.ParseStatus(report.Status)
		if err == nil && (status.Terminal() || status == models.StatusNotFound) {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FollowEvents renders the workflow's transitions from the monitor's event
// stream instead of polling, returning the terminal status. The status
// route is still polled occasionally in case the workflow finished before
// the stream subscription was in place.
func (w *Watcher) FollowEvents(ctx context.Context, monitorURL string, id models.WorkflowID) (models.Status, error) {
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	events := make(chan rest.WorkflowEvent, 16)
	subscribeErr := make(chan error, 1)
	sseClient := sse.NewClient(monitorURL + "/v1/events")
	go func() {
		subscribeErr <- sseClient.SubscribeRawWithContext(streamCtx, func(msg *sse.Event) {
			if string(msg.Event) != "workflow" {
				return
			}
			var event rest.WorkflowEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil || event.ID != id {
				return
			}
			select {
			case events <- event:
			default:
			}
		})
	}()

	verify := time.NewTicker(eventVerifyInterval)
	defer verify.Stop()
	for {
		select {
		case <-ctx.Done():
			return models.StatusError, ctx.Err()
		case err := <-subscribeErr:
			if err == nil {
				err = errors.Errorf("error: the event stream at %s ended", monitorURL)
			}
			return models.StatusError, err
		case event := <-events:
			status, err := models.ParseStatus(event.Status)
			if err != nil {
				continue
			}
			w.opts.Out.Print(status.Message(id))
			if status.Terminal() {
				return status, nil
			}
		case <-verify.C:
			report, err := w.client.Status(ctx, id)
			if err != nil {
				continue
			}
			status, err := models.ParseStatus(report.Status)
			if err == nil && (status.Terminal() || status == models.StatusNotFound) {
				w.opts.Out.Print(status.Message(id))
				return status, nil
			}
		}
	}
}

func statusMessage(name string, id models.WorkflowID) string {
	status, err := models.ParseStatus(name)
	if err != nil {
		return name
	}
	return status.Message(id)
}

func jobField(job map[string]interface{}, key string) string {
	value, ok := job[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

func jobLabel(index int, job map[string]interface{}) string {
	if description := jobField(job, "description"); description != "" {
		return description
	}
	if cmd := jobField(job, "cmd"); cmd != "" {
		return cmd
	}
	return fmt.Sprintf("job %d", index+1)
}
