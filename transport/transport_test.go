package transport

import (
	"context"
	"net"
	"testing"

	"github.com/JackDrogon/sekas/protocol"
)

func startTransport(t *testing.T, tr *Transport) string {
	t.Helper()
	ln, err := tr.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go tr.Serve(ln)
	t.Cleanup(func() { tr.Close() })
	return ln.Addr().String()
}

func TestTransportCallRoundtrip(t *testing.T) {
	tr := NewTransport()
	tr.RegisterHandler(protocol.MsgAllocTxnID, func(_ context.Context, msg any) (any, error) {
		req := msg.(*protocol.AllocTxnIDRequest)
		return &protocol.AllocTxnIDResponse{BaseTxnID: 100, Count: req.NumRequired}, nil
	})
	addr := startTransport(t, tr)

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	resp, err := c.Call(&protocol.AllocTxnIDRequest{NumRequired: 8})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	got, ok := resp.(*protocol.AllocTxnIDResponse)
	if !ok {
		t.Fatalf("response %T, want *AllocTxnIDResponse", resp)
	}
	if got.BaseTxnID != 100 || got.Count != 8 {
		t.Fatalf("response = %+v, want base 100 count 8", got)
	}
}

func TestTransportHandlerErrorBecomesErrorFrame(t *testing.T) {
	tr := NewTransport()
	tr.RegisterHandler(protocol.MsgJoin, func(context.Context, any) (any, error) {
		return nil, &protocol.RPCErrorResponse{Code: protocol.CodeNotBootstrapped, Message: "not yet"}
	})
	addr := startTransport(t, tr)

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	resp, err := c.Call(&protocol.JoinRequest{Addr: "n1:9500"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	rpcErr, ok := resp.(*protocol.RPCErrorResponse)
	if !ok {
		t.Fatalf("response %T, want *RPCErrorResponse", resp)
	}
	if rpcErr.Code != protocol.CodeNotBootstrapped {
		t.Fatalf("code = %d, want %d", rpcErr.Code, protocol.CodeNotBootstrapped)
	}
}

func TestTransportStreamHandlerWritesMultipleFrames(t *testing.T) {
	tr := NewTransport()
	tr.RegisterStreamHandler(protocol.MsgWatch, func(_ context.Context, msg any, conn net.Conn, codec *protocol.Codec) error {
		req := msg.(*protocol.WatchRequest)
		for id := range req.Cursor {
			batch := &protocol.WatchResponse{
				Deletes: []protocol.DeleteEvent{{Kind: protocol.KindGroup, ID: id}},
			}
			if err := codec.Encode(conn, batch); err != nil {
				return err
			}
		}
		return codec.Encode(conn, &protocol.WatchResponse{})
	})
	addr := startTransport(t, tr)

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if err := c.Write(&protocol.WatchRequest{Cursor: map[uint64]uint64{3: 0}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	first, err := c.Read()
	if err != nil {
		t.Fatalf("Read first: %v", err)
	}
	batch := first.(*protocol.WatchResponse)
	if len(batch.Deletes) != 1 || batch.Deletes[0].ID != 3 {
		t.Fatalf("first batch = %+v, want delete of group 3", batch)
	}
	second, err := c.Read()
	if err != nil {
		t.Fatalf("Read second: %v", err)
	}
	if b := second.(*protocol.WatchResponse); len(b.Updates) != 0 || len(b.Deletes) != 0 {
		t.Fatalf("second batch should be empty, got %+v", b)
	}
}

func TestTransportConnectionSurvivesMultipleCalls(t *testing.T) {
	tr := NewTransport()
	var calls int
	tr.RegisterHandler(protocol.MsgAllocTxnID, func(_ context.Context, msg any) (any, error) {
		calls++
		return &protocol.AllocTxnIDResponse{BaseTxnID: uint64(calls)}, nil
	})
	addr := startTransport(t, tr)

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	for i := 1; i <= 3; i++ {
		resp, err := c.Call(&protocol.AllocTxnIDRequest{NumRequired: 1})
		if err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
		if got := resp.(*protocol.AllocTxnIDResponse).BaseTxnID; got != uint64(i) {
			t.Fatalf("call %d: base = %d", i, got)
		}
	}
}
