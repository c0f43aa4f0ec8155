package mapreduce

import (
	"context"
	"fmt"
	"io"
	"net"
)

// client issues one RPC per connection: write the request, shut down the
// write side, read the whole response, close.
type client struct {
	id       string
	sockname string
}

func (c *client) call(ctx context.Context, name RPCName, payload ...string) ([]byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.sockname)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrCoordinatorUnreachable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := Request{WorkerID: c.id, Name: name, Payload: payload}
	if _, err := conn.Write(req.Encode()); err != nil {
		return nil, fmt.Errorf("%s: write: %w", name, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return nil, fmt.Errorf("%s: shutdown write: %w", name, err)
		}
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", name, err)
	}
	return resp, nil
}

func (c *client) ack(ctx context.Context, name RPCName, payload ...string) error {
	resp, err := c.call(ctx, name, payload...)
	if err != nil {
		return err
	}
	return parseAck(name, resp)
}

func (c *client) register(ctx context.Context) error {
	return c.ack(ctx, Register)
}

func (c *client) stealWork(ctx context.Context) (Assignment, error) {
	resp, err := c.call(ctx, StealWork)
	if err != nil {
		return Assignment{}, err
	}
	return ParseAssignment(resp)
}

func (c *client) finish(ctx context.Context, files []string) error {
	return c.ack(ctx, Finish, files...)
}

func (c *client) keepAlive(ctx context.Context) error {
	return c.ack(ctx, KeepAlive)
}
