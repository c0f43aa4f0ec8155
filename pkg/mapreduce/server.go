package mapreduce

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// maxRequestSize bounds what a single connection may send.
const maxRequestSize = 1 << 20

// start a goroutine that listens for RPCs from worker.go
func (c *Coordinator) server() error {
	sockname := c.cfg.SocketPath
	if _, err := os.Stat(sockname); err == nil {
		c.log.Printf("removing stale socket %s", sockname)
		os.Remove(sockname)
	}
	l, err := net.Listen("unix", sockname)
	if err != nil {
		return err
	}
	c.l = l

	c.wg.Add(1)
	go c.serve()
	return nil
}

func (c *Coordinator) serve() {
	defer c.wg.Done()
	for {
		conn, err := c.l.Accept()
		if err != nil {
			select {
			case <-c.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Printf("accept: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		c.wg.Add(1)
		go c.handleConn(conn)
	}
}

// handleConn serves exactly one request. Socket I/O happens outside the
// registry lock; only dispatch takes it.
func (c *Coordinator) handleConn(conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout))

	data, err := io.ReadAll(io.LimitReader(conn, maxRequestSize+1))
	if err != nil {
		c.log.Printf("read request: %v", err)
		return
	}
	if len(data) > maxRequestSize {
		// drain so the client sees the error rather than a reset
		io.Copy(io.Discard, conn)
		err := protocolErrorf("request exceeds %d bytes", maxRequestSize)
		c.log.Printf("%v", err)
		conn.Write(encodeError(err))
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		c.log.Printf("%v", err)
		conn.Write(encodeError(err))
		return
	}
	c.log.Printf("rpc from worker %s: %s", req.WorkerID, req.Name)

	if _, err := conn.Write(c.dispatch(req)); err != nil {
		c.log.Printf("write response to %s: %v", req.WorkerID, err)
	}
}

func (c *Coordinator) dispatch(req Request) []byte {
	var err error
	switch req.Name {
	case Register:
		err = c.Register(req.WorkerID)
	case StealWork:
		var a Assignment
		if a, err = c.StealWork(req.WorkerID); err == nil {
			return a.Encode()
		}
	case Finish:
		err = c.Finish(req.WorkerID, req.Payload)
	case KeepAlive:
		err = c.KeepAlive(req.WorkerID)
	default:
		err = protocolErrorf("unknown rpc %q", req.Name)
	}

	if err != nil {
		c.log.Printf("%s from %s: %v", req.Name, req.WorkerID, err)
		return encodeError(err)
	}
	return []byte(acks[req.Name])
}

// Close stops serving, stops the reaper and removes the socket file.
func (c *Coordinator) Close() error {
	var err error
	c.closing.Do(func() {
		close(c.shutdown)
		if c.l != nil {
			err = c.l.Close()
		}
		c.wg.Wait()
		if c.l != nil {
			os.Remove(c.cfg.SocketPath)
		}
	})
	return err
}
