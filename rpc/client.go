package rpc

import (
	"fmt"
	"sync"

	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/transport"
)

// Client talks to a root replica over one connection, serializing calls. On a
// not-leader redirect carrying a hint it redials the leader and retries once.
type Client struct {
	mu   sync.Mutex
	addr string
	c    *transport.Client
}

func Dial(addr string) (*Client, error) {
	c, err := transport.Dial(addr)
	if err != nil {
		return nil, err
	}
	return &Client{addr: addr, c: c}, nil
}

func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.c == nil {
		return nil
	}
	err := c.c.Close()
	c.c = nil
	return err
}

func (c *Client) call(req any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, err := c.callLocked(req)
	if err != nil {
		return nil, err
	}
	rpcErr, ok := resp.(*protocol.RPCErrorResponse)
	if !ok {
		return resp, nil
	}
	if rpcErr.Code == protocol.CodeNotRootLeader && rpcErr.LeaderHint != "" && rpcErr.LeaderHint != c.addr {
		if err := c.redialLocked(rpcErr.LeaderHint); err != nil {
			return nil, ToError(rpcErr)
		}
		resp, err = c.callLocked(req)
		if err != nil {
			return nil, err
		}
		if rpcErr, ok = resp.(*protocol.RPCErrorResponse); !ok {
			return resp, nil
		}
	}
	return nil, ToError(rpcErr)
}

func (c *Client) callLocked(req any) (any, error) {
	if c.c == nil {
		cc, err := transport.Dial(c.addr)
		if err != nil {
			return nil, err
		}
		c.c = cc
	}
	resp, err := c.c.Call(req)
	if err != nil {
		// Connection is in an unknown state; drop it so the next call redials.
		c.c.Close()
		c.c = nil
		return nil, err
	}
	return resp, nil
}

func (c *Client) redialLocked(addr string) error {
	cc, err := transport.Dial(addr)
	if err != nil {
		return err
	}
	if c.c != nil {
		c.c.Close()
	}
	c.c = cc
	c.addr = addr
	return nil
}

func (c *Client) Join(req *protocol.JoinRequest) (*protocol.JoinResponse, error) {
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	out, ok := resp.(*protocol.JoinResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return out, nil
}

func (c *Client) Report(req *protocol.ReportRequest) (*protocol.ReportResponse, error) {
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	out, ok := resp.(*protocol.ReportResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return out, nil
}

func (c *Client) AllocReplica(req *protocol.AllocReplicaRequest) (*protocol.AllocReplicaResponse, error) {
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	out, ok := resp.(*protocol.AllocReplicaResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return out, nil
}

func (c *Client) AllocTxnID(numRequired uint64) (*protocol.AllocTxnIDResponse, error) {
	resp, err := c.call(&protocol.AllocTxnIDRequest{NumRequired: numRequired})
	if err != nil {
		return nil, err
	}
	out, ok := resp.(*protocol.AllocTxnIDResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return out, nil
}

func (c *Client) Admin(req *protocol.AdminRequest) (*protocol.AdminResponse, error) {
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	out, ok := resp.(*protocol.AdminResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
	return out, nil
}

// Watch opens a dedicated connection streaming event batches. The cursor maps
// group id to the last epoch the caller observed; nil means "from scratch".
func (c *Client) Watch(cursor map[uint64]uint64) (*WatchStream, error) {
	c.mu.Lock()
	addr := c.addr
	c.mu.Unlock()
	cc, err := transport.Dial(addr)
	if err != nil {
		return nil, err
	}
	if err := cc.Write(&protocol.WatchRequest{Cursor: cursor}); err != nil {
		cc.Close()
		return nil, err
	}
	return &WatchStream{c: cc}, nil
}

// WatchStream is the receive side of one watch call. The first Recv returns
// the catch-up batch.
type WatchStream struct {
	c *transport.Client
}

func (s *WatchStream) Recv() (*protocol.WatchResponse, error) {
	resp, err := s.c.Read()
	if err != nil {
		return nil, err
	}
	switch v := resp.(type) {
	case *protocol.WatchResponse:
		return v, nil
	case *protocol.RPCErrorResponse:
		return nil, ToError(v)
	default:
		return nil, fmt.Errorf("unexpected response %T", resp)
	}
}

func (s *WatchStream) Close() error {
	return s.c.Close()
}
