package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyonslab/yerba/common/util"
	"github.com/lyonslab/yerba/common/util/proc_lock"
	"github.com/lyonslab/yerba/common/version"
	"github.com/lyonslab/yerba/server/app"
)

func main() {
	fmt.Printf("Yerba Daemon v%s\n", version.VersionToString())
	fmt.Printf("Starting with args: %v\n", util.FilterOSArgs(os.Args, app.LogSafeFlags))

	config, err := app.ConfigFromFlags()
	if err != nil {
		log.Fatalf("Error parsing flags: %s", err)
	}

	// Only one daemon may own a data directory at a time
	lockFile, err := proc_lock.CreateLockFile(app.LockFilePath(config.DataDir))
	if err != nil {
		log.Fatalf("Error locking data directory %q (is another yerbad running?): %s", config.DataDir, err)
	}
	defer lockFile.Close()

	server, cleanup, err := app.New(context.Background(), config)
	if err != nil {
		log.Fatalf("Error creating daemon: %s", err)
	}
	defer cleanup()

	err = server.Engine.Start()
	if err != nil {
		log.Fatalf("Error starting services: %s", err)
	}
	go server.Engine.Run()

	err = server.SocketServer.Start()
	if err != nil {
		log.Fatalf("Error starting the message socket: %s", err)
	}
	if config.MonitorAddr != "" {
		err = server.MonitorServer.Start()
		if err != nil {
			log.Fatalf("Error starting the monitor API: %s", err)
		}
	}

	// Wait for SIGINT or SIGTERM, or for a client's shutdown request,
	// before shutting the daemon down
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-done:
	case <-server.Engine.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute*5)
	defer cancel()
	if config.MonitorAddr != "" {
		err = server.MonitorServer.Stop(ctx)
		if err != nil {
			log.Fatal(err.Error())
		}
	}
	server.SocketServer.Stop()
	server.Engine.Shutdown()
	log.Print("Daemon shutdown complete")
}
