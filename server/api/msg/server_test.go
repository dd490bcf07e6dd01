package msg_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/msg/client"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

func testLogFactory() logger.LogFactory {
	registry, _ := logger.NewLogRegistry("")
	return logger.MakeLogrusLogFactoryStdOut(registry)
}

// startTestServer runs a SocketServer backed by a responder goroutine that
// stands in for the engine: health answers OK, get_status echoes the id,
// shutdown closes the reply channel, everything else answers Error.
func startTestServer(t *testing.T) string {
	requests := make(chan *msg.Request, 16)
	server := msg.NewSocketServer("127.0.0.1:0", requests, testLogFactory())
	require.NoError(t, server.Start())

	done := make(chan struct{})
	go func() {
		for {
			select {
			case request := <-requests:
				switch request.Envelope.Request {
				case msg.RouteHealth:
					request.Reply <- &documents.StatusResponse{Status: "OK"}
				case msg.RouteGetStatus:
					payload := &documents.IDRequest{}
					if err := json.Unmarshal(request.Envelope.Data, payload); err != nil {
						request.Reply <- &documents.StatusResponse{Status: models.StatusError.Name()}
						continue
					}
					request.Reply <- &documents.StatusReportResponse{
						Status: models.StatusRunning.Name(),
						Jobs: []map[string]interface{}{
							{"status": "running", "description": fmt.Sprintf("workflow %d", payload.ID)},
						},
					}
				case msg.RouteShutdown:
					close(request.Reply)
				default:
					request.Reply <- &documents.StatusResponse{Status: models.StatusError.Name()}
				}
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() {
		server.Stop()
		close(done)
	})
	return server.Addr().String()
}

func TestServerAnswersRequests(t *testing.T) {
	addr := startTestServer(t)
	c := client.NewClient(addr, testLogFactory())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OK", status)

	// The connection is reused for consecutive requests, and the data
	// payload reaches the handler
	report, err := c.Status(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Running", report.Status)
	require.Len(t, report.Jobs, 1)
	assert.Equal(t, "running", report.Jobs[0]["status"])
	assert.Equal(t, "workflow 7", report.Jobs[0]["description"])
}

func TestServerAnswersUnroutableRequestsWithError(t *testing.T) {
	addr := startTestServer(t)
	c := client.NewClient(addr, testLogFactory())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := c.Cancel(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Error", status)
}

func TestServerAnswersMalformedFramesWithError(t *testing.T) {
	addr := startTestServer(t)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	// A well-framed body that is not JSON
	body := []byte("not json")
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	reply, err := msg.ReadFrame(conn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "Error"}`, string(reply))

	// The connection survives the bad frame
	require.NoError(t, msg.WriteFrame(conn, &documents.RequestEnvelope{
		Request: msg.RouteHealth,
		Data:    json.RawMessage(`{}`),
	}))
	reply, err = msg.ReadFrame(conn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "OK"}`, string(reply))
}

func TestServerHangsUpAfterShutdownRequest(t *testing.T) {
	addr := startTestServer(t)
	c := client.NewClient(addr, testLogFactory())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown is acknowledged by closing the connection, not by a reply
	require.NoError(t, c.Shutdown(ctx))
}

func TestServerStopClosesOpenConnections(t *testing.T) {
	requests := make(chan *msg.Request, 1)
	server := msg.NewSocketServer("127.0.0.1:0", requests, testLogFactory())
	require.NoError(t, server.Start())

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Stop returns even though a connection is sitting idle, and the
	// client sees the hangup
	server.Stop()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	_, err = msg.ReadFrame(conn)
	require.Error(t, err)
}
