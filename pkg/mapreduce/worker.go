package mapreduce

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/paulniziolek/sockmr/pkg/mapreduce/task"
)

// Worker executes one task at a time on behalf of the coordinator.
type Worker struct {
	cfg     WorkerConfig
	log     *log.Logger
	mapf    MapFunc
	reducef ReduceFunc
	client  *client
}

func NewWorker(cfg WorkerConfig, mapf MapFunc, reducef ReduceFunc) (*Worker, error) {
	cfg = cfg.withDefaults()
	if cfg.ID == "" {
		return nil, errors.New("worker id is required")
	}
	if _, err := ParseRequest(Request{WorkerID: cfg.ID, Name: Register}.Encode()); err != nil {
		return nil, fmt.Errorf("worker id %q: %w", cfg.ID, err)
	}
	return &Worker{
		cfg:     cfg,
		log:     cfg.Logger,
		mapf:    mapf,
		reducef: reducef,
		client:  &client{id: cfg.ID, sockname: cfg.SocketPath},
	}, nil
}

// cmd/worker calls this function.
func RunWorker(ctx context.Context, cfg WorkerConfig, mapf MapFunc, reducef ReduceFunc) error {
	w, err := NewWorker(cfg, mapf, reducef)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Run registers once and then polls for work until ctx is cancelled or the
// coordinator goes away.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.client.register(ctx); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	w.log.Printf("registered")

	for {
		err := w.step(ctx)
		if err == nil {
			err = w.client.keepAlive(ctx)
		}
		if err != nil {
			if !leaseLost(err) {
				return err
			}
			w.log.Printf("lease lost (%v), registering again", err)
			if err := w.client.register(ctx); err != nil {
				return fmt.Errorf("register: %w", err)
			}
		}

		if err := sleep(ctx, w.cfg.HeartbeatInterval); err != nil {
			return err
		}
	}
}

func leaseLost(err error) bool {
	return errors.Is(err, ErrWorkerExpired) || errors.Is(err, ErrUnknownWorker)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// step asks for one task and runs it to completion. Task failures are not
// errors here: the task is abandoned and the coordinator reassigns it.
func (w *Worker) step(ctx context.Context) error {
	a, err := w.client.stealWork(ctx)
	if err != nil {
		return err
	}

	var files []string
	switch a.TaskType {
	case task.Map:
		w.log.Printf("map task %d: %s", a.MapIndex, a.InputFile)
		files, err = w.doMap(a)
	case task.Reduce:
		w.log.Printf("reduce partition %d: %d files", a.Partition, len(a.IntermediateFiles))
		var out string
		if out, err = w.doReduce(a); err == nil {
			files = []string{out}
		}
	default:
		return sleep(ctx, w.cfg.PollInterval)
	}

	if err != nil {
		w.log.Printf("abandoning %s task: %v", a.TaskType, err)
		return nil
	}
	if err := w.client.finish(ctx, files); err != nil {
		if leaseLost(err) || errors.Is(err, ErrCoordinatorUnreachable) {
			return err
		}
		w.log.Printf("finish rejected: %v", err)
	}
	return nil
}

// doMap partitions the input split into a.NReduce sorted intermediate files
// and returns their paths, bucket by bucket.
func (w *Worker) doMap(a Assignment) ([]string, error) {
	records, err := readRecords(a.InputFile)
	if err != nil {
		return nil, err
	}

	var kva []KeyValue
	for _, record := range records {
		for _, kv := range w.mapf(record) {
			if err := validKV(kv); err != nil {
				return nil, err
			}
			kva = append(kva, kv)
		}
	}

	buckets := createKVBuckets(kva, a.NReduce)
	createdFiles := make([]string, len(buckets))
	for i, bucket := range buckets {
		createdFiles[i] = filepath.Join(w.cfg.Dir, intermediateName(w.cfg.ID, a.MapIndex, i))
		if err := writeKVFile(createdFiles[i], bucket); err != nil {
			return nil, fmt.Errorf("write %s: %w", createdFiles[i], err)
		}
	}
	return createdFiles, nil
}

// doReduce merges the partition's sorted intermediate files, reduces every
// key and returns the output path.
func (w *Worker) doReduce(a Assignment) (string, error) {
	runs := make([][]KeyValue, 0, len(a.IntermediateFiles))
	for _, f := range a.IntermediateFiles {
		kvs, err := readKVFile(f)
		if err != nil {
			return "", err
		}
		if !sort.SliceIsSorted(kvs, func(i, j int) bool { return less(kvs[i], kvs[j]) }) {
			return "", fmt.Errorf("intermediate file %s is not sorted", f)
		}
		runs = append(runs, kvs)
	}

	var reduced []KeyValue
	forEachGroup(mergeK(runs), func(key string, values []string) {
		reduced = append(reduced, KeyValue{Key: key, Value: w.reducef(key, values)})
	})

	oname := filepath.Join(w.cfg.Dir, outputName(w.cfg.ID, a.Partition))
	if err := writeKVFile(oname, reduced); err != nil {
		return "", fmt.Errorf("write %s: %w", oname, err)
	}
	return oname, nil
}
