package msg

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/lyonslab/yerba/common/logger"
	"github.com/lyonslab/yerba/common/models"
	"github.com/lyonslab/yerba/server/api/msg/documents"
)

// RequestID correlates a request across the connection and engine logs.
type RequestID string

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func (r RequestID) String() string {
	return string(r)
}

// Request is one decoded client request on its way to the engine.
// The engine sends at most one response on Reply; closing Reply without
// sending tells the connection that no response is coming and it should
// hang up.
type Request struct {
	ID       RequestID
	Envelope *documents.RequestEnvelope
	Reply    chan interface{}
}

// SocketServer accepts framed JSON request/reply connections and forwards
// decoded requests to the engine's request channel. Connections are served
// one request at a time in arrival order; all dispatching happens on the
// engine goroutine.
type SocketServer struct {
	addr     string
	requests chan<- *Request
	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]bool
	logger.Log
}

func NewSocketServer(addr string, requests chan<- *Request, logFactory logger.LogFactory) *SocketServer {
	return &SocketServer{
		addr:     addr,
		requests: requests,
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]bool),
		Log:      logFactory("SocketServer"),
	}
}

// Start begins listening for connections. It returns once the listener is
// bound; connections are accepted on a background goroutine.
func (s *SocketServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", s.addr)
	}
	s.listener = listener
	s.Infof("Message socket listening on %s", listener.Addr())
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address. Only valid after Start.
func (s *SocketServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to finish.
func (s *SocketServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *SocketServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.Warnf("Error accepting connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *SocketServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()
	s.Debugf("Connection accepted from %s", conn.RemoteAddr())
	for {
		body, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				s.Debugf("Error reading request from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		s.Tracef("Received %s", body)

		envelope := &documents.RequestEnvelope{}
		if err := json.Unmarshal(body, envelope); err != nil {
			s.Warnf("The request could not be decoded: %v", err)
			if !s.writeResponse(conn, &documents.StatusResponse{Status: models.StatusError.Name()}) {
				return
			}
			continue
		}

		request := &Request{ID: NewRequestID(), Envelope: envelope, Reply: make(chan interface{}, 1)}
		s.Debugf("Forwarding request %s %q from %s", request.ID, envelope.Request, conn.RemoteAddr())
		select {
		case s.requests <- request:
		case <-s.done:
			return
		}

		select {
		case response, ok := <-request.Reply:
			if !ok {
				// The engine is going down and will not answer
				return
			}
			if !s.writeResponse(conn, response) {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *SocketServer) writeResponse(conn net.Conn, response interface{}) bool {
	if err := WriteFrame(conn, response); err != nil {
		s.Warnf("Failed to send response to %s: %v", conn.RemoteAddr(), err)
		return false
	}
	return true
}

func (s *SocketServer) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()
}

func (s *SocketServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}
