package mapreduce

import (
	"bufio"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type KeyValue struct {
	Key   string
	Value string
}

// MapFunc turns one input record into intermediate pairs. Keys must not
// contain ',' or a line break, values must not contain a line break.
type MapFunc func(record string) []KeyValue

// ReduceFunc folds every value seen for key into one result.
type ReduceFunc func(key string, values []string) string

const kvSeparator = ","

var (
	intermediateFileFormat = "%s-%d-%d-map.txt"
	finalFileFormat        = "%s-%d-reduce.txt"
)

func intermediateName(workerID string, mapIndex, bucket int) string {
	return fmt.Sprintf(intermediateFileFormat, workerID, mapIndex, bucket)
}

func outputName(workerID string, partition int) string {
	return fmt.Sprintf(finalFileFormat, workerID, partition)
}

// ihash(key) % nReduce to split keys across nReduce reduce tasks
func ihash(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() & 0x7fffffff)
}

// less orders pairs as (key, value) tuples.
func less(a, b KeyValue) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Value < b.Value
}

func createKVBuckets(kva []KeyValue, reduceWorkers int) [][]KeyValue {
	buckets := make([][]KeyValue, reduceWorkers)
	for _, kv := range kva {
		bucket := ihash(kv.Key) % reduceWorkers
		buckets[bucket] = append(buckets[bucket], kv)
	}
	for _, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool { return less(bucket[i], bucket[j]) })
	}
	return buckets
}

func validKV(kv KeyValue) error {
	if strings.ContainsAny(kv.Key, ",\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, kv.Key)
	}
	if strings.ContainsAny(kv.Value, "\r\n") {
		return fmt.Errorf("%w: value for %q contains a line break", ErrInvalidKey, kv.Key)
	}
	return nil
}

// writeKVs writes one "<key>,<value>" line per pair.
func writeKVs(w io.Writer, kvs []KeyValue) error {
	bw := bufio.NewWriter(w)
	for _, kv := range kvs {
		if err := validKV(kv); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(bw, "%s%s%s\n", kv.Key, kvSeparator, kv.Value); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// readKVs parses the lines written by writeKVs. The key ends at the first
// separator, so values may themselves contain ','.
func readKVs(r io.Reader) ([]KeyValue, error) {
	var kvs []KeyValue
	err := eachLine(r, func(line string) error {
		if line == "" {
			return nil
		}
		key, value, ok := strings.Cut(line, kvSeparator)
		if !ok {
			return fmt.Errorf("malformed line %q", line)
		}
		kvs = append(kvs, KeyValue{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kvs, nil
}

// eachLine calls fn with every line of r, without its trailing newline. Lines
// have no length limit; a final line without a newline is still delivered.
func eachLine(r io.Reader, fn func(line string) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if line != "" {
			if ferr := fn(strings.TrimSuffix(line, "\n")); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

func readKVFile(filename string) ([]KeyValue, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	kvs, err := readKVs(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return kvs, nil
}

// writeKVFile replaces filename with kvs through a temp file and rename, so a
// re-executed task overwrites its earlier output without readers ever seeing a
// partial file.
func writeKVFile(filename string, kvs []KeyValue) error {
	f, err := os.CreateTemp(filepath.Dir(filename), ".mr-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := writeKVs(f, kvs); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filename)
}

// readRecords returns the lines of an input split. CRLF line endings are
// accepted.
func readRecords(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []string
	err = eachLine(file, func(line string) error {
		records = append(records, strings.TrimSuffix(line, "\r"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return records, nil
}
