package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	mr "github.com/paulniziolek/sockmr/pkg/mapreduce"
	"github.com/paulniziolek/sockmr/pkg/mrapps/wc"
)

func main() {
	var (
		id        = flag.String("id", "", "worker id, unique per job (default: random uuid)")
		sock      = flag.String("socket", mr.DefaultSocketPath(), "coordinator socket")
		dir       = flag.String("dir", ".", "shared directory for intermediate and output files")
		poll      = flag.Duration("poll", mr.DefaultPollInterval, "wait after the coordinator has no work")
		heartbeat = flag.Duration("heartbeat", mr.DefaultHeartbeatInterval, "keep-alive interval")
	)
	flag.Parse()

	// positional id, as in "worker <id>"
	if *id == "" && flag.NArg() > 0 {
		*id = flag.Arg(0)
	}
	if *id == "" {
		*id = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := mr.RunWorker(ctx, mr.WorkerConfig{
		ID:                *id,
		SocketPath:        *sock,
		Dir:               *dir,
		PollInterval:      *poll,
		HeartbeatInterval: *heartbeat,
	}, wc.Map, wc.Reduce)

	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, mr.ErrCoordinatorUnreachable):
		// Assume coordinator has finished
		log.Printf("worker %s: coordinator gone, exiting", *id)
	default:
		log.Fatalf("worker %s: %v", *id, err)
	}
}
