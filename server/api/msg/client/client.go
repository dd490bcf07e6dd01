package client

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

// Client talks to the daemon's message socket. It holds one connection,
// dialled lazily and redialled after an I/O failure; requests and replies
// alternate strictly so a Client must not be shared between goroutines.
type Client struct {
	addr string
	conn net.Conn
	log  logger.Log
}

func NewClient(addr string, logFactory logger.LogFactory) *Client {
	return &Client{
		addr: addr,
		log:  logFactory("MessageClient"),
	}
}

// Close hangs up the connection, if one is open.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Health checks that the daemon is answering requests.
func (c *Client) Health(ctx context.Context) (string, error) {
	response := &documents.StatusResponse{}
	if err := c.do(ctx, msg.RouteHealth, struct{}{}, response); err != nil {
		return "", err
	}
	return response.Status, nil
}

// Schedule submits a workflow specification.
func (c *Client) Schedule(ctx context.Context, spec *models.WorkflowSpec) (*documents.ScheduleResponse, error) {
	response := &documents.ScheduleResponse{}
	if err := c.do(ctx, msg.RouteSchedule, spec, response); err != nil {
		return nil, err
	}
	return response, nil
}

// Cancel withdraws a workflow, returning its resulting status name.
func (c *Client) Cancel(ctx context.Context, id models.WorkflowID) (string, error) {
	response := &documents.StatusResponse{}
	if err := c.do(ctx, msg.RouteCancel, &documents.IDRequest{ID: id}, response); err != nil {
		return "", err
	}
	return response.Status, nil
}

// Status reports a workflow's status and per-job state list.
func (c *Client) Status(ctx context.Context, id models.WorkflowID) (*documents.StatusReportResponse, error) {
	response := &documents.StatusReportResponse{}
	if err := c.do(ctx, msg.RouteGetStatus, &documents.IDRequest{ID: id}, response); err != nil {
		return nil, err
	}
	return response, nil
}

// Workflows lists stored workflows, limited to ids when any are given.
func (c *Client) Workflows(ctx context.Context, ids ...models.WorkflowID) ([]documents.WorkflowRow, error) {
	response := &documents.WorkflowsResponse{}
	if err := c.do(ctx, msg.RouteWorkflows, &documents.WorkflowsRequest{IDs: ids}, response); err != nil {
		return nil, err
	}
	return response.Workflows, nil
}

// Restart schedules a stored workflow to run again, returning its
// post-schedule status name.
func (c *Client) Restart(ctx context.Context, id models.WorkflowID) (string, error) {
	response := &documents.StatusResponse{}
	if err := c.do(ctx, msg.RouteRestart, &documents.IDRequest{ID: id}, response); err != nil {
		return "", err
	}
	return response.Status, nil
}

// Shutdown asks the daemon to exit. The daemon acknowledges by closing
// the connection instead of replying.
func (c *Client) Shutdown(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.applyDeadline(ctx, conn); err != nil {
		return err
	}
	err = msg.WriteFrame(conn, &documents.RequestEnvelope{
		Request: msg.RouteShutdown,
		Data:    json.RawMessage("{}"),
	})
	if err != nil {
		return errors.Wrap(err, "error sending shutdown request")
	}
	_, err = msg.ReadFrame(conn)
	if err == nil || err == io.EOF {
		return nil
	}
	return errors.Wrap(err, "error waiting for the daemon to hang up")
}

// do sends one request and decodes the daemon's reply into response.
func (c *Client) do(ctx context.Context, route string, data interface{}, response interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return errors.Wrapf(err, "error encoding %q request data", route)
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	if err := c.applyDeadline(ctx, conn); err != nil {
		return err
	}
	err = msg.WriteFrame(conn, &documents.RequestEnvelope{Request: route, Data: body})
	if err != nil {
		c.Close()
		return errors.Wrapf(err, "error sending %q request", route)
	}
	reply, err := msg.ReadFrame(conn)
	if err != nil {
		c.Close()
		return errors.Wrapf(err, "error reading %q response", route)
	}
	c.log.Tracef("Received %s", reply)
	if err := json.Unmarshal(reply, response); err != nil {
		return errors.Wrapf(err, "error decoding %q response", route)
	}
	return nil
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", c.addr)
	}
	c.log.Debugf("Connected to %s", c.addr)
	c.conn = conn
	return conn, nil
}

func (c *Client) applyDeadline(ctx context.Context, conn net.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return errors.Wrap(err, "error setting request deadline")
	}
	return nil
}
