package adminsock

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 5 * time.Second

// Client talks to a daemon's admin socket.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the admin socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to admin socket %s: %w", path, err)
	}
	return &Client{rpc: jsonrpc.NewClient(conn)}, nil
}

// Command runs a named command and returns its encoded result.
func (c *Client) Command(command string, args map[string]string, format string) ([]byte, error) {
	req := CommandRequest{Command: command, Args: args, Format: format}
	var resp CommandResponse
	if err := c.rpc.Call("Admin.Command", req, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}
