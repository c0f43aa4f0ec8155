package mapreduce

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateWorker is returned by register when the id is already live.
	ErrDuplicateWorker = errors.New("worker already registered")

	// ErrNoActiveTask is returned by finish when the worker holds no lease.
	ErrNoActiveTask = errors.New("worker has no active task")

	// ErrUnknownWorker is returned for calls from ids that never registered.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrWorkerExpired is returned to a worker whose lease was reaped. The
	// worker must register again before stealing more work.
	ErrWorkerExpired = errors.New("worker lease expired")

	// ErrCoordinatorUnreachable is returned when no coordinator listens on the
	// socket, which is also how workers learn the job has ended.
	ErrCoordinatorUnreachable = errors.New("coordinator unreachable")

	// ErrInvalidKey is returned when a map function emits a key or value the
	// intermediate file format cannot hold.
	ErrInvalidKey = errors.New("invalid intermediate key")
)

// ProtocolError reports a malformed request or response.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// error kinds as they travel on the wire
const (
	kindDuplicateWorker = "duplicate-worker"
	kindNoActiveTask    = "no-active-task"
	kindUnknownWorker   = "unknown-worker"
	kindWorkerExpired   = "worker-expired"
	kindProtocol        = "protocol"
)

var errorKinds = map[string]error{
	kindDuplicateWorker: ErrDuplicateWorker,
	kindNoActiveTask:    ErrNoActiveTask,
	kindUnknownWorker:   ErrUnknownWorker,
	kindWorkerExpired:   ErrWorkerExpired,
}

func errorKind(err error) string {
	for kind, sentinel := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return kindProtocol
}

// remoteError is an error decoded from a coordinator response. It unwraps to
// the matching sentinel so callers can use errors.Is across the wire.
type remoteError struct {
	kind string
	msg  string
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("coordinator: %s", e.msg)
}

func (e *remoteError) Unwrap() error {
	if sentinel, ok := errorKinds[e.kind]; ok {
		return sentinel
	}
	return &ProtocolError{Msg: e.msg}
}
