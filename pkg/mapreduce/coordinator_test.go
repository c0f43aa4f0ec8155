package mapreduce

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/paulniziolek/sockmr/pkg/mapreduce/task"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCoordinator(t *testing.T, inputs []string, nReduce int) (*Coordinator, *fakeClock) {
	t.Helper()
	c, err := NewCoordinator(Config{
		Inputs:       inputs,
		NReduce:      nReduce,
		LeaseTimeout: 3 * time.Second,
		Logger:       DiscardLogger,
	})
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c.now = clock.now
	return c, clock
}

func mustRegister(t *testing.T, c *Coordinator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := c.Register(id); err != nil {
			t.Fatalf("Register(%q): %v", id, err)
		}
	}
}

func mustSteal(t *testing.T, c *Coordinator, id string) Assignment {
	t.Helper()
	a, err := c.StealWork(id)
	if err != nil {
		t.Fatalf("StealWork(%q): %v", id, err)
	}
	return a
}

func mustFinish(t *testing.T, c *Coordinator, id string, files ...string) {
	t.Helper()
	if err := c.Finish(id, files); err != nil {
		t.Fatalf("Finish(%q): %v", id, err)
	}
}

func TestNewCoordinatorValidatesConfig(t *testing.T) {
	if _, err := NewCoordinator(Config{NReduce: 1, Logger: DiscardLogger}); err == nil {
		t.Errorf("accepted a job without inputs")
	}
	if _, err := NewCoordinator(Config{Inputs: []string{"a"}, Logger: DiscardLogger}); err == nil {
		t.Errorf("accepted a job without partitions")
	}
}

func TestReduceWaitsForEveryMapper(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"in-0", "in-1"}, 2)
	mustRegister(t, c, "w1", "w2", "w3")

	a1 := mustSteal(t, c, "w1")
	a2 := mustSteal(t, c, "w2")
	if a1.TaskType != task.Map || a1.MapIndex != 0 || a1.InputFile != "in-0" || a1.NReduce != 2 {
		t.Fatalf("first assignment %+v", a1)
	}
	if a2.TaskType != task.Map || a2.MapIndex != 1 {
		t.Fatalf("second assignment %+v", a2)
	}
	if a := mustSteal(t, c, "w3"); a.TaskType != task.NoWork {
		t.Fatalf("reduce handed out while both maps run: %+v", a)
	}

	mustFinish(t, c, "w1", "w1-0-0", "w1-0-1")
	for _, id := range []string{"w1", "w3"} {
		if a := mustSteal(t, c, id); a.TaskType != task.NoWork {
			t.Fatalf("reduce handed out after one of two maps: %+v", a)
		}
	}
	if got := c.reduceTask(0).Status; got != task.Blocked {
		t.Fatalf("partition 0 status %v before all mappers reported", got)
	}

	mustFinish(t, c, "w2", "w2-1-0", "w2-1-1")

	r0 := mustSteal(t, c, "w1")
	r1 := mustSteal(t, c, "w3")
	if r0.TaskType != task.Reduce || r0.Partition != 0 || !reflect.DeepEqual(r0.IntermediateFiles, []string{"w1-0-0", "w2-1-0"}) {
		t.Fatalf("partition 0 assignment %+v", r0)
	}
	if r1.TaskType != task.Reduce || r1.Partition != 1 || !reflect.DeepEqual(r1.IntermediateFiles, []string{"w1-0-1", "w2-1-1"}) {
		t.Fatalf("partition 1 assignment %+v", r1)
	}

	mustFinish(t, c, "w3", "w3-1-reduce.txt")
	if c.Done() {
		t.Fatalf("done with one partition outstanding")
	}
	mustFinish(t, c, "w1", "w1-0-reduce.txt")
	if !c.Done() {
		t.Fatalf("not done after every partition finished")
	}
	if got, want := c.Outputs(), []string{"w1-0-reduce.txt", "w3-1-reduce.txt"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Outputs() = %v, want %v", got, want)
	}
	if a := mustSteal(t, c, "w2"); a.TaskType != task.NoWork {
		t.Fatalf("work handed out after completion: %+v", a)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	c, clock := newTestCoordinator(t, []string{"in"}, 1)
	mustRegister(t, c, "w1")

	if err := c.Register("w1"); !errors.Is(err, ErrDuplicateWorker) {
		t.Fatalf("second Register = %v, want ErrDuplicateWorker", err)
	}

	clock.advance(4 * time.Second)
	if got := c.reap(clock.now()); !reflect.DeepEqual(got, []string{"w1"}) {
		t.Fatalf("reap() = %v, want [w1]", got)
	}
	if err := c.Register("w1"); err != nil {
		t.Fatalf("Register after expiry: %v", err)
	}
}

func TestLiveLeaseIsExclusive(t *testing.T) {
	c, clock := newTestCoordinator(t, []string{"in"}, 1)
	mustRegister(t, c, "w1", "w2")

	if a := mustSteal(t, c, "w1"); a.TaskType != task.Map {
		t.Fatalf("w1 got %+v", a)
	}
	if a := mustSteal(t, c, "w2"); a.TaskType != task.NoWork {
		t.Fatalf("running task handed to a second live worker: %+v", a)
	}

	// w1 keeps its lease alive, so a sweep must not take the task away
	clock.advance(2 * time.Second)
	if err := c.KeepAlive("w1"); err != nil {
		t.Fatal(err)
	}
	if err := c.KeepAlive("w2"); err != nil {
		t.Fatal(err)
	}
	clock.advance(2 * time.Second)
	if got := c.reap(clock.now()); len(got) != 0 {
		t.Fatalf("reaped live workers %v", got)
	}
	if a := mustSteal(t, c, "w2"); a.TaskType != task.NoWork {
		t.Fatalf("leased task reissued: %+v", a)
	}

	// w1 goes silent
	clock.advance(2 * time.Second)
	if err := c.KeepAlive("w2"); err != nil {
		t.Fatal(err)
	}
	if got := c.reap(clock.now()); !reflect.DeepEqual(got, []string{"w1"}) {
		t.Fatalf("reap() = %v, want [w1]", got)
	}
	if a := mustSteal(t, c, "w2"); a.TaskType != task.Map || a.MapIndex != 0 {
		t.Fatalf("expired lease not reissued: %+v", a)
	}
	if _, err := c.StealWork("w1"); !errors.Is(err, ErrWorkerExpired) {
		t.Fatalf("expired worker StealWork = %v, want ErrWorkerExpired", err)
	}
	if err := c.KeepAlive("w1"); !errors.Is(err, ErrWorkerExpired) {
		t.Fatalf("expired worker KeepAlive = %v, want ErrWorkerExpired", err)
	}
}

func TestReissueKeepsCreationOrder(t *testing.T) {
	c, clock := newTestCoordinator(t, []string{"in-0", "in-1", "in-2"}, 1)
	mustRegister(t, c, "w1", "w2")

	mustSteal(t, c, "w1") // map 0
	mustSteal(t, c, "w2") // map 1

	clock.advance(4 * time.Second)
	c.KeepAlive("w2")
	c.reap(clock.now())

	mustRegister(t, c, "w3")
	if a := mustSteal(t, c, "w3"); a.MapIndex != 0 {
		t.Fatalf("reissued %+v, want map 0 ahead of map 2", a)
	}
	if got := c.tasks[2].Status; got != task.Idle {
		t.Fatalf("map 2 status %v, want idle", got)
	}
}

func TestLateFinishIsNotDoubleCounted(t *testing.T) {
	c, clock := newTestCoordinator(t, []string{"in"}, 2)
	mustRegister(t, c, "w1", "w2")

	mustSteal(t, c, "w1")
	clock.advance(4 * time.Second)
	c.KeepAlive("w2")
	c.reap(clock.now())
	mustSteal(t, c, "w2") // same map task, reissued

	// the presumed-dead worker reports after all
	mustFinish(t, c, "w1", "w1-0-0", "w1-0-1")
	if got := c.tasks[0].Status; got != task.Done {
		t.Fatalf("late finish not accepted, map status %v", got)
	}
	if _, ok := c.workers["w1"]; ok {
		t.Fatalf("expired worker still tracked after its late finish")
	}

	mustFinish(t, c, "w2", "w2-0-0", "w2-0-1")
	for p := 0; p < 2; p++ {
		if c.pendingCount[p] != 1 {
			t.Fatalf("partition %d counted %d map outputs, want 1", p, c.pendingCount[p])
		}
		rt := c.reduceTask(p)
		if rt.Status != task.Idle || len(rt.ReduceMetadata.IntermediateFiles) != 1 {
			t.Fatalf("partition %d: %+v %+v", p, rt, rt.ReduceMetadata)
		}
	}
	if got := c.reduceTask(0).ReduceMetadata.IntermediateFiles[0]; got != "w1-0-0" {
		t.Fatalf("partition 0 reads %q, want the first report", got)
	}

	if err := c.Register("w1"); err != nil {
		t.Fatalf("re-register after late finish: %v", err)
	}
}

func TestReapForgetsSettledWorkers(t *testing.T) {
	c, clock := newTestCoordinator(t, []string{"in"}, 1)
	mustRegister(t, c, "w1", "w2", "w3")

	mustSteal(t, c, "w1") // map 0, then silence
	clock.advance(4 * time.Second)
	c.KeepAlive("w2")
	if got := c.reap(clock.now()); !reflect.DeepEqual(got, []string{"w1", "w3"}) {
		t.Fatalf("reap() = %v, want [w1 w3]", got)
	}
	if len(c.workers) != 3 {
		t.Fatalf("%d workers tracked right after the sweep, want 3", len(c.workers))
	}

	// w3 held nothing, w1's task can still be finished late
	c.reap(clock.now())
	if _, ok := c.workers["w3"]; ok {
		t.Fatalf("idle expired worker not forgotten")
	}
	if _, ok := c.workers["w1"]; !ok {
		t.Fatalf("expired worker forgotten while its task is unfinished")
	}

	mustSteal(t, c, "w2")
	mustFinish(t, c, "w2", "w2-0-0")
	c.reap(clock.now())
	if len(c.workers) != 1 {
		t.Fatalf("workers %v, want only w2", c.workers)
	}
	if err := c.Finish("w1", []string{"w1-0-0"}); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("Finish(forgotten) = %v, want ErrUnknownWorker", err)
	}
	mustRegister(t, c, "w1", "w3")
}

func TestFinishErrors(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"in"}, 2)

	if err := c.Finish("ghost", []string{"x"}); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("Finish(unknown) = %v", err)
	}
	if _, err := c.StealWork("ghost"); !errors.Is(err, ErrUnknownWorker) {
		t.Fatalf("StealWork(unknown) = %v", err)
	}

	mustRegister(t, c, "w1")
	if err := c.Finish("w1", []string{"x", "y"}); !errors.Is(err, ErrNoActiveTask) {
		t.Fatalf("Finish without lease = %v, want ErrNoActiveTask", err)
	}

	mustSteal(t, c, "w1")
	var perr *ProtocolError
	if err := c.Finish("w1", []string{"only-one"}); !errors.As(err, &perr) {
		t.Fatalf("Finish with 1 of 2 files = %v, want ProtocolError", err)
	}
	if got := c.tasks[0]; got.Status != task.Running || got.Worker != "w1" {
		t.Fatalf("rejected finish changed the lease: %+v", got)
	}
	mustFinish(t, c, "w1", "a", "b")
}

func TestStealReleasesAbandonedLease(t *testing.T) {
	c, _ := newTestCoordinator(t, []string{"in-0", "in-1"}, 1)
	mustRegister(t, c, "w1", "w2")

	mustSteal(t, c, "w1") // map 0, then abandoned
	mustSteal(t, c, "w2") // map 1
	a := mustSteal(t, c, "w1")
	if a.TaskType != task.Map || a.MapIndex != 0 {
		t.Fatalf("abandoned task not reissued: %+v", a)
	}
	if got := c.tasks[1]; got.Status != task.Running || got.Worker != "w2" {
		t.Fatalf("w2's lease disturbed: %+v", got)
	}
}
