package mapreduce

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"
)

const (
	DefaultHeartbeatInterval = time.Second
	DefaultPollInterval      = 500 * time.Millisecond

	// DefaultLeaseTimeout is three missed heartbeats.
	DefaultLeaseTimeout  = 3 * DefaultHeartbeatInterval
	DefaultSweepInterval = DefaultHeartbeatInterval
	DefaultIOTimeout     = 10 * time.Second
)

// Config is the job configuration the coordinator starts with.
// M is len(Inputs) and R is NReduce.
type Config struct {
	Inputs  []string
	NReduce int

	SocketPath    string
	LeaseTimeout  time.Duration
	SweepInterval time.Duration
	IOTimeout     time.Duration

	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.SocketPath == "" {
		c.SocketPath = coordinatorSock()
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = DefaultLeaseTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "coordinator: ", log.LstdFlags)
	}
	return c
}

type WorkerConfig struct {
	ID         string
	SocketPath string
	// Dir is the shared directory intermediate and output files are written to.
	Dir string

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	Logger *log.Logger
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.SocketPath == "" {
		c.SocketPath = coordinatorSock()
	}
	if c.Dir == "" {
		c.Dir = "."
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "worker "+c.ID+": ", log.LstdFlags)
	}
	return c
}

// DiscardLogger drops everything written to it.
var DiscardLogger = log.New(io.Discard, "", 0)

// Cook up a unique-ish UNIX-domain socket name in /var/tmp.
func coordinatorSock() string {
	s := "/var/tmp/sockmr-"
	s += strconv.Itoa(os.Getuid())
	return s
}

// DefaultSocketPath is the socket both binaries use when none is given.
func DefaultSocketPath() string {
	return coordinatorSock()
}
