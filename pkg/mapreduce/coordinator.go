package mapreduce

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/paulniziolek/sockmr/pkg/mapreduce/task"
)

type workerRecord struct {
	lastHeartbeat time.Time
	current       *task.Task

	// stale records belong to workers whose lease was reaped. They are kept
	// so a late finish can still be matched to its task, and dropped once
	// that task is done.
	stale bool
}

type Coordinator struct {
	cfg Config
	log *log.Logger
	now func() time.Time

	// tasklock guards everything below it
	tasklock sync.Mutex

	tasks   []*task.Task // map tasks first, then reduce tasks, in ID order
	nMap    int
	nReduce int

	// pending[p][m] is map task m's file for partition p, "" until reported
	pending      [][]string
	pendingCount []int

	workers     map[string]*workerRecord
	reducesDone int
	done        bool

	l        net.Listener
	shutdown chan struct{}
	closing  sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator builds the task registry for cfg without serving it.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Inputs) == 0 {
		return nil, errors.New("no input splits")
	}
	if cfg.NReduce <= 0 {
		return nil, fmt.Errorf("invalid partition count %d", cfg.NReduce)
	}

	c := &Coordinator{
		cfg:          cfg,
		log:          cfg.Logger,
		now:          time.Now,
		nMap:         len(cfg.Inputs),
		nReduce:      cfg.NReduce,
		pending:      make([][]string, cfg.NReduce),
		pendingCount: make([]int, cfg.NReduce),
		workers:      make(map[string]*workerRecord),
		shutdown:     make(chan struct{}),
	}

	for i, input := range cfg.Inputs {
		c.tasks = append(c.tasks, &task.Task{
			ID:       i,
			TaskType: task.Map,
			Status:   task.Idle,
			MapMetadata: &task.MapMetadata{
				Index:         i,
				InputFile:     input,
				ReduceWorkers: cfg.NReduce,
			},
		})
	}
	for p := 0; p < cfg.NReduce; p++ {
		c.pending[p] = make([]string, c.nMap)
		c.tasks = append(c.tasks, &task.Task{
			ID:             c.nMap + p,
			TaskType:       task.Reduce,
			Status:         task.Blocked,
			ReduceMetadata: &task.ReduceMetadata{Partition: p},
		})
	}
	return c, nil
}

// MakeCoordinator starts a coordinator listening on cfg.SocketPath with the
// lease reaper running. Call Close to stop it.
func MakeCoordinator(cfg Config) (*Coordinator, error) {
	c, err := NewCoordinator(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.server(); err != nil {
		return nil, err
	}
	c.wg.Add(1)
	go c.startReaper()

	c.log.Printf("serving %d map tasks, %d reduce partitions on %s", c.nMap, c.nReduce, c.cfg.SocketPath)
	return c, nil
}

func (c *Coordinator) reduceTask(partition int) *task.Task {
	return c.tasks[c.nMap+partition]
}

// touch records contact from a live worker.
func (c *Coordinator) touch(id string) (*workerRecord, error) {
	rec, ok := c.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownWorker, id)
	}
	if rec.stale {
		return nil, fmt.Errorf("%w: %q", ErrWorkerExpired, id)
	}
	rec.lastHeartbeat = c.now()
	return rec, nil
}

func (c *Coordinator) Register(id string) error {
	c.tasklock.Lock()
	defer c.tasklock.Unlock()

	if rec, ok := c.workers[id]; ok {
		if !rec.stale {
			return fmt.Errorf("%w: %q", ErrDuplicateWorker, id)
		}
		c.releaseLease(id, rec)
	}
	c.workers[id] = &workerRecord{lastHeartbeat: c.now()}
	return nil
}

// releaseLease returns the worker's running task, if it still holds it, to
// the idle pool and forgets the association.
func (c *Coordinator) releaseLease(id string, rec *workerRecord) {
	if t := rec.current; t != nil && t.Status == task.Running && t.Worker == id {
		t.Release()
	}
	rec.current = nil
}

func (c *Coordinator) StealWork(id string) (Assignment, error) {
	c.tasklock.Lock()
	defer c.tasklock.Unlock()

	rec, err := c.touch(id)
	if err != nil {
		return Assignment{}, err
	}

	// A worker only asks for work when it is idle, so any lease it still
	// holds belongs to a task it abandoned.
	if rec.current != nil {
		if rec.current.Status == task.Running && rec.current.Worker == id {
			c.log.Printf("worker %s abandoned task %d", id, rec.current.ID)
		}
		c.releaseLease(id, rec)
	}

	if c.done {
		return noWork(), nil
	}

	t := c.nextTask(task.Map)
	if t == nil {
		t = c.nextTask(task.Reduce)
	}
	if t == nil {
		return noWork(), nil
	}

	t.Lease(id)
	rec.current = t

	if t.TaskType == task.Map {
		return Assignment{
			TaskType:  task.Map,
			InputFile: t.MapMetadata.InputFile,
			NReduce:   t.MapMetadata.ReduceWorkers,
			MapIndex:  t.MapMetadata.Index,
		}, nil
	}
	return Assignment{
		TaskType:          task.Reduce,
		Partition:         t.ReduceMetadata.Partition,
		IntermediateFiles: append([]string(nil), t.ReduceMetadata.IntermediateFiles...),
	}, nil
}

// nextTask returns the eligible task of the given type created first.
func (c *Coordinator) nextTask(tt task.TaskType) *task.Task {
	for _, t := range c.tasks {
		if t.TaskType == tt && t.Status.Eligible() {
			return t
		}
	}
	return nil
}

// Finish records the outputs of the task leased to id. A worker whose lease
// was reaped may still finish: its results are accepted unless another worker
// already completed the task.
func (c *Coordinator) Finish(id string, files []string) error {
	c.tasklock.Lock()
	defer c.tasklock.Unlock()

	rec, ok := c.workers[id]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownWorker, id)
	}
	if !rec.stale {
		rec.lastHeartbeat = c.now()
	}

	t := rec.current
	if t == nil {
		return fmt.Errorf("%w: %q", ErrNoActiveTask, id)
	}

	switch t.TaskType {
	case task.Map:
		if len(files) != c.nReduce {
			return protocolErrorf("map finish from %q carries %d files, want %d", id, len(files), c.nReduce)
		}
	case task.Reduce:
		if len(files) != 1 {
			return protocolErrorf("reduce finish from %q carries %d files, want 1", id, len(files))
		}
	}

	rec.current = nil
	if rec.stale {
		delete(c.workers, id)
	}
	if t.Status == task.Done {
		c.log.Printf("worker %s finished task %d again, ignoring", id, t.ID)
		return nil
	}

	switch t.TaskType {
	case task.Map:
		c.recordMapOutputs(t.MapMetadata.Index, files)
	case task.Reduce:
		t.ReduceMetadata.OutputFile = files[0]
		c.reducesDone++
	}
	t.Complete()
	c.log.Printf("worker %s finished %s task %d", id, t.TaskType, t.ID)

	if c.reducesDone == c.nReduce && !c.done {
		c.done = true
		c.log.Printf("job complete")
	}
	return nil
}

// recordMapOutputs adds map task m's files to every partition's pending set
// and unblocks the partitions that now have a file from every map task.
func (c *Coordinator) recordMapOutputs(m int, files []string) {
	for p, f := range files {
		if c.pending[p][m] != "" {
			continue
		}
		c.pending[p][m] = f
		c.pendingCount[p]++
		if c.pendingCount[p] == c.nMap {
			rt := c.reduceTask(p)
			rt.ReduceMetadata.IntermediateFiles = append([]string(nil), c.pending[p]...)
			rt.Status = task.Idle
		}
	}
}

func (c *Coordinator) KeepAlive(id string) error {
	c.tasklock.Lock()
	defer c.tasklock.Unlock()

	_, err := c.touch(id)
	return err
}

// reap marks every worker silent for longer than the lease timeout as stale
// and returns its running task to the idle pool. Workers marked on an earlier
// sweep are forgotten once no late finish can matter for them.
func (c *Coordinator) reap(now time.Time) []string {
	c.tasklock.Lock()
	defer c.tasklock.Unlock()

	var expired []string
	for id, rec := range c.workers {
		if rec.stale {
			if t := rec.current; t == nil || t.Status == task.Done {
				delete(c.workers, id)
				c.log.Printf("forgetting expired worker %s", id)
			}
			continue
		}
		if now.Sub(rec.lastHeartbeat) <= c.cfg.LeaseTimeout {
			continue
		}
		rec.stale = true
		if t := rec.current; t != nil && t.Status == task.Running && t.Worker == id {
			t.Release()
			c.log.Printf("worker %s expired, task %d back to idle", id, t.ID)
		} else {
			c.log.Printf("worker %s expired", id)
		}
		expired = append(expired, id)
	}
	sort.Strings(expired)
	return expired
}

func (c *Coordinator) startReaper() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.reap(c.now())
		}
	}
}

// cmd/coordinator calls Done() periodically to find out
// if the entire job has finished.
func (c *Coordinator) Done() bool {
	c.tasklock.Lock()
	defer c.tasklock.Unlock()
	return c.done
}

// Outputs returns the final output file of every completed partition, in
// partition order.
func (c *Coordinator) Outputs() []string {
	c.tasklock.Lock()
	defer c.tasklock.Unlock()

	var outputs []string
	for p := 0; p < c.nReduce; p++ {
		if t := c.reduceTask(p); t.Status == task.Done {
			outputs = append(outputs, t.ReduceMetadata.OutputFile)
		}
	}
	return outputs
}
