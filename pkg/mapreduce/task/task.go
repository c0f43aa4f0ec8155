package task

// Task is one unit of work held in the coordinator's registry.
//
// IDs follow creation order: map tasks take 0..M-1 and the reduce task for
// partition p takes M+p. Scheduling scans tasks by ID, so the lowest eligible
// ID is always handed out first.
type Task struct {
	ID       int
	TaskType TaskType
	Status   TaskStatus
	Worker   string // lease holder while Status == Running

	MapMetadata    *MapMetadata
	ReduceMetadata *ReduceMetadata
}

type MapMetadata struct {
	Index         int
	InputFile     string
	ReduceWorkers int
}

type ReduceMetadata struct {
	Partition         int
	IntermediateFiles []string // ordered by map index once the partition is unblocked
	OutputFile        string
}

// Lease binds t to worker.
func (t *Task) Lease(worker string) {
	t.Status = Running
	t.Worker = worker
}

// Release returns a running task to the idle pool.
func (t *Task) Release() {
	if t.Status != Running {
		return
	}
	t.Status = Idle
	t.Worker = ""
}

func (t *Task) Complete() {
	t.Status = Done
	t.Worker = ""
}
