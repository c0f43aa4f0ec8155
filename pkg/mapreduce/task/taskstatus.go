package task

type TaskStatus string

const (
	// Blocked reduce tasks wait for every map task to report their partition.
	Blocked       TaskStatus = "BLOCKED"
	Idle          TaskStatus = "IDLE"
	Running       TaskStatus = "RUNNING"
	Done          TaskStatus = "DONE"
	UnknownStatus TaskStatus = ""
)

// Eligible reports whether a task in status s may be handed to a worker.
func (s TaskStatus) Eligible() bool {
	return s == Idle
}
