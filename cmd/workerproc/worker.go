package main

import (
	"os"
	"time"

	"github.com/oriys/workerproc/internal/transport"
	"github.com/oriys/workerproc/internal/worker"
	"github.com/oriys/workerproc/internal/worker/workertest"
)

// serveWorker runs this process as a worker: it reads the Handshake off
// stdin, serves whichever class the handshake names out of
// workertest.Registry, and writes framed responses to stdout. spawn and
// bench both re-exec this binary with workerModeEnv set to reach here.
func serveWorker() error {
	t := transport.NewStdioTransport(os.Stdin, os.Stdout, 64<<20)
	return worker.Serve(t, worker.Options{
		Registry:        workertest.Registry(),
		ShutdownTimeout: 5 * time.Second,
		CallbackTimeout: 30 * time.Second,
	})
}
