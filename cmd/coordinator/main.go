package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mr "github.com/paulniziolek/sockmr/pkg/mapreduce"
)

const (
	nReduce = 10
)

func main() {
	var (
		reducers = flag.Int("r", nReduce, "number of reduce partitions")
		sock     = flag.String("socket", mr.DefaultSocketPath(), "unix socket to listen on")
		lease    = flag.Duration("lease", mr.DefaultLeaseTimeout, "worker lease timeout")
		sweep    = flag.Duration("sweep", mr.DefaultSweepInterval, "lease reaper interval")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: coordinator [flags] inputfiles...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	c, err := mr.MakeCoordinator(mr.Config{
		Inputs:        flag.Args(),
		NReduce:       *reducers,
		SocketPath:    *sock,
		LeaseTimeout:  *lease,
		SweepInterval: *sweep,
	})
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !c.Done() {
		select {
		case s := <-sigs:
			log.Printf("coordinator: %v, shutting down before completion", s)
			c.Close()
			os.Exit(1)
		case <-ticker.C:
		}
	}

	for _, out := range c.Outputs() {
		fmt.Println(out)
	}

	// let in-flight keep-alives land before the socket disappears
	time.Sleep(time.Second)
	if err := c.Close(); err != nil {
		log.Printf("coordinator: close: %v", err)
	}
}
