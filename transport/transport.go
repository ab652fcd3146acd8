// Package transport manages TCP connections carrying length-prefixed protocol
// frames. The rpc package registers handlers per message type; watch uses a
// stream handler that keeps writing frames on the same connection.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/JackDrogon/sekas/protocol"
	"go.uber.org/zap"
)

// StreamHandler is used for RPCs where the server writes multiple response
// frames on the same connection. The connection is closed when the handler
// returns; a stream consumes its connection.
type StreamHandler func(ctx context.Context, msg any, conn net.Conn, codec *protocol.Codec) error

type Transport struct {
	Codec          *protocol.Codec
	handlers       map[protocol.MessageType]func(context.Context, any) (any, error)
	streamHandlers map[protocol.MessageType]StreamHandler
	logger         *zap.Logger

	mu sync.Mutex
	ln net.Listener
}

func NewTransport() *Transport {
	return &Transport{
		Codec:          &protocol.Codec{},
		handlers:       make(map[protocol.MessageType]func(context.Context, any) (any, error)),
		streamHandlers: make(map[protocol.MessageType]StreamHandler),
		logger:         zap.L().Named("transport"),
	}
}

func (t *Transport) RegisterHandler(msgType protocol.MessageType, handler func(context.Context, any) (any, error)) {
	t.handlers[msgType] = handler
}

func (t *Transport) RegisterStreamHandler(msgType protocol.MessageType, handler StreamHandler) {
	t.streamHandlers[msgType] = handler
}

func (t *Transport) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.ln = ln
	t.mu.Unlock()
	return ln, nil
}

func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return t.ln.Addr().String()
	}
	return ""
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		err := t.ln.Close()
		t.ln = nil
		return err
	}
	return nil
}

func (t *Transport) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go t.handleConn(conn)
	}
}

func (t *Transport) ListenAndServe(addr string) error {
	ln, err := t.Listen(addr)
	if err != nil {
		return err
	}
	t.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	t.Serve(ln)
	return nil
}

func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		mType, msg, err := t.Codec.Decode(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				t.logger.Debug("read error", zap.Error(err))
			}
			return
		}
		if streamHandler := t.streamHandlers[mType]; streamHandler != nil {
			if err := streamHandler(context.Background(), msg, conn, t.Codec); err != nil {
				t.logger.Debug("stream handler finished", zap.Error(err))
			}
			return // stream consumes connection
		}
		handler := t.handlers[mType]
		if handler == nil {
			t.logger.Warn("no handler for message type", zap.Uint16("msg_type", uint16(mType)))
			return
		}
		resp, err := handler(context.Background(), msg)
		if err != nil {
			// Handler errors travel as RPCErrorResponse frames; anything the
			// handler could not map closes the connection.
			var rpcErr *protocol.RPCErrorResponse
			if !errors.As(err, &rpcErr) {
				t.logger.Error("handler error", zap.Uint16("msg_type", uint16(mType)), zap.Error(err))
				return
			}
			resp = rpcErr
		}
		if err := t.Codec.Encode(conn, resp); err != nil {
			t.logger.Debug("encode error", zap.Error(err))
			return
		}
	}
}

// Client is one TCP connection to a root server. Not safe for concurrent
// Call; the rpc client serializes.
type Client struct {
	conn  net.Conn
	codec *protocol.Codec
}

func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, codec: &protocol.Codec{}}, nil
}

func (c *Client) Call(msg any) (any, error) {
	if err := c.Write(msg); err != nil {
		return nil, err
	}
	return c.Read()
}

func (c *Client) Write(msg any) error {
	return c.codec.Encode(c.conn, msg)
}

func (c *Client) Read() (any, error) {
	_, resp, err := c.codec.Decode(c.conn)
	return resp, err
}

func (c *Client) Close() error {
	return c.conn.Close()
}
