package app

import (
	"github.com/lyonslab/yerba/server/api/msg"
	"github.com/lyonslab/yerba/server/api/rest"
)

type Server struct {
	Engine        *Engine
	SocketServer  *msg.SocketServer
	MonitorServer *rest.MonitorServer
}

func NewServer(
	engine *Engine,
	socketServer *msg.SocketServer,
	monitorServer *rest.MonitorServer,
) *Server {
	return &Server{
		Engine:        engine,
		SocketServer:  socketServer,
		MonitorServer: monitorServer,
	}
}
