package mapreduce

import (
	"strconv"
	"strings"

	"github.com/paulniziolek/sockmr/pkg/mapreduce/task"
)

// Wire format, one request and one response per connection:
//
//	request:  <worker id>\n<rpc name>[\n<payload line>...]
//	response: call specific, or error\n<kind>\n<message>

type RPCName string

const (
	Register  RPCName = "register"
	StealWork RPCName = "steal-work"
	Finish    RPCName = "finish"
	KeepAlive RPCName = "keep-alive"
)

const (
	registerAck  = "register res"
	finishAck    = "finish res"
	keepAliveAck = "keep-alive res"
	noWorkReply  = "nowork"
	errorReply   = "error"
)

var acks = map[RPCName]string{
	Register:  registerAck,
	Finish:    finishAck,
	KeepAlive: keepAliveAck,
}

type Request struct {
	WorkerID string
	Name     RPCName
	Payload  []string // finish only: the task's output files
}

func (r Request) Encode() []byte {
	lines := append([]string{r.WorkerID, string(r.Name)}, r.Payload...)
	return []byte(strings.Join(lines, "\n"))
}

func splitLines(data []byte) []string {
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// ParseRequest decodes a request and rejects anything outside the grammar.
func ParseRequest(data []byte) (Request, error) {
	lines := splitLines(data)
	if len(lines) < 2 {
		return Request{}, protocolErrorf("short request: %d lines", len(lines))
	}

	req := Request{
		WorkerID: strings.TrimSpace(lines[0]),
		Name:     RPCName(strings.TrimSpace(lines[1])),
		Payload:  lines[2:],
	}
	if req.WorkerID == "" {
		return Request{}, protocolErrorf("empty worker id")
	}
	if strings.ContainsAny(req.WorkerID, " \t/") {
		return Request{}, protocolErrorf("invalid worker id %q", req.WorkerID)
	}

	switch req.Name {
	case Register, StealWork, KeepAlive:
		if len(req.Payload) != 0 {
			return Request{}, protocolErrorf("%s takes no payload, got %d lines", req.Name, len(req.Payload))
		}
		req.Payload = nil
	case Finish:
		if len(req.Payload) == 0 {
			return Request{}, protocolErrorf("finish without output files")
		}
		for i, p := range req.Payload {
			p = strings.TrimSpace(p)
			if p == "" {
				return Request{}, protocolErrorf("finish: empty file name at line %d", i+3)
			}
			req.Payload[i] = p
		}
	default:
		return Request{}, protocolErrorf("unknown rpc %q", req.Name)
	}
	return req, nil
}

// Assignment is the coordinator's answer to steal-work.
type Assignment struct {
	TaskType task.TaskType

	// map
	InputFile string
	NReduce   int
	MapIndex  int

	// reduce
	Partition         int
	IntermediateFiles []string
}

func noWork() Assignment {
	return Assignment{TaskType: task.NoWork}
}

func (a Assignment) Encode() []byte {
	var lines []string
	switch a.TaskType {
	case task.Map:
		lines = []string{"map", a.InputFile, strconv.Itoa(a.NReduce), strconv.Itoa(a.MapIndex)}
	case task.Reduce:
		lines = append([]string{"reduce", strconv.Itoa(a.Partition)}, a.IntermediateFiles...)
	default:
		lines = []string{noWorkReply}
	}
	return []byte(strings.Join(lines, "\n"))
}

func parseNonNegative(field, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, protocolErrorf("bad %s %q", field, s)
	}
	return n, nil
}

// ParseAssignment decodes a steal-work response.
func ParseAssignment(data []byte) (Assignment, error) {
	lines := splitLines(data)
	if err := responseError(lines); err != nil {
		return Assignment{}, err
	}
	if len(lines) == 0 {
		return Assignment{}, protocolErrorf("empty steal-work response")
	}

	switch strings.TrimSpace(lines[0]) {
	case noWorkReply:
		if len(lines) != 1 {
			return Assignment{}, protocolErrorf("nowork with %d trailing lines", len(lines)-1)
		}
		return noWork(), nil
	case "map":
		if len(lines) != 4 {
			return Assignment{}, protocolErrorf("map response has %d lines, want 4", len(lines))
		}
		a := Assignment{TaskType: task.Map, InputFile: strings.TrimSpace(lines[1])}
		if a.InputFile == "" {
			return Assignment{}, protocolErrorf("map response without input")
		}
		var err error
		if a.NReduce, err = parseNonNegative("partition count", lines[2]); err != nil {
			return Assignment{}, err
		}
		if a.NReduce == 0 {
			return Assignment{}, protocolErrorf("map response with zero partitions")
		}
		if a.MapIndex, err = parseNonNegative("map index", lines[3]); err != nil {
			return Assignment{}, err
		}
		return a, nil
	case "reduce":
		if len(lines) < 3 {
			return Assignment{}, protocolErrorf("reduce response without intermediate files")
		}
		a := Assignment{TaskType: task.Reduce}
		var err error
		if a.Partition, err = parseNonNegative("partition", lines[1]); err != nil {
			return Assignment{}, err
		}
		for _, f := range lines[2:] {
			f = strings.TrimSpace(f)
			if f == "" {
				return Assignment{}, protocolErrorf("reduce response with empty file name")
			}
			a.IntermediateFiles = append(a.IntermediateFiles, f)
		}
		return a, nil
	}
	return Assignment{}, protocolErrorf("unknown steal-work response %q", lines[0])
}

// parseAck checks a register, finish or keep-alive response.
func parseAck(name RPCName, data []byte) error {
	lines := splitLines(data)
	if err := responseError(lines); err != nil {
		return err
	}
	want := acks[name]
	if len(lines) != 1 || strings.TrimSpace(lines[0]) != want {
		return protocolErrorf("%s: unexpected response %q", name, string(data))
	}
	return nil
}

func encodeError(err error) []byte {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	return []byte(strings.Join([]string{errorReply, errorKind(err), msg}, "\n"))
}

func responseError(lines []string) error {
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != errorReply {
		return nil
	}
	if len(lines) < 3 {
		return protocolErrorf("truncated error response")
	}
	return &remoteError{kind: strings.TrimSpace(lines[1]), msg: strings.Join(lines[2:], " ")}
}
