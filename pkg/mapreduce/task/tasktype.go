package task

type TaskType string

const (
	Map    TaskType = "MAP"
	Reduce TaskType = "REDUCE"

	// pseudo-task type
	NoWork TaskType = "NOWORK"

	UnknownType TaskType = ""
)
