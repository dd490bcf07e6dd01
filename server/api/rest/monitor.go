package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/logger"
)

// MonitorServer serves the read-only monitor API over HTTP. It is only
// started when an address is configured.
type MonitorServer struct {
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	logger.Log
}

func NewMonitorServer(addr string, router *MonitorRouter, logFactory logger.LogFactory) *MonitorServer {
	// The base context lets Stop cancel long-lived event streams that
	// would otherwise hold Shutdown open until its deadline.
	ctx, cancel := context.WithCancel(context.Background())
	return &MonitorServer{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     router,
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
		cancel: cancel,
		Log:    logFactory("MonitorServer"),
	}
}

// Start begins listening for monitor requests. It returns once the
// listener is bound; requests are served on background goroutines.
func (s *MonitorServer) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", s.httpServer.Addr)
	}
	s.listener = listener
	s.Infof("Monitor API listening on %s", listener.Addr())
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.Errorf("Monitor server failed: %v", err)
		}
	}()
	return nil
}

// ServerURL returns the base URL of the monitor API. Only valid after
// Start.
func (s *MonitorServer) ServerURL() string {
	return fmt.Sprintf("http://%s", s.listener.Addr())
}

// Stop cancels open event streams and shuts the server down gracefully,
// allowing in-flight requests to complete until ctx expires.
func (s *MonitorServer) Stop(ctx context.Context) error {
	s.cancel()
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		return errors.Wrap(err, "error shutting down the monitor server")
	}
	return nil
}
