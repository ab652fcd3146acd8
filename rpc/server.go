// Package rpc exposes the root's operations over the framed TCP transport and
// provides the matching client.
package rpc

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/root"
	"github.com/JackDrogon/sekas/transport"
	"go.uber.org/zap"
)

type Server struct {
	root    *root.Root
	cluster root.ClusterInfo
	tr      *transport.Transport
	logger  *zap.Logger
}

func NewServer(r *root.Root, cluster root.ClusterInfo, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L().Named("rpc")
	}
	s := &Server{
		root:    r,
		cluster: cluster,
		tr:      transport.NewTransport(),
		logger:  logger,
	}
	s.tr.RegisterHandler(protocol.MsgJoin, s.handleJoin)
	s.tr.RegisterHandler(protocol.MsgReport, s.handleReport)
	s.tr.RegisterHandler(protocol.MsgAllocReplica, s.handleAllocReplica)
	s.tr.RegisterHandler(protocol.MsgAllocTxnID, s.handleAllocTxnID)
	s.tr.RegisterHandler(protocol.MsgAdmin, s.handleAdmin)
	s.tr.RegisterStreamHandler(protocol.MsgWatch, s.handleWatch)
	return s
}

func (s *Server) Listen(addr string) (net.Listener, error) { return s.tr.Listen(addr) }
func (s *Server) Serve(ln net.Listener)                    { s.tr.Serve(ln) }
func (s *Server) ListenAndServe(addr string) error         { return s.tr.ListenAndServe(addr) }
func (s *Server) Addr() string                             { return s.tr.Addr() }
func (s *Server) Close() error                             { return s.tr.Close() }

// requireLeader rejects mutating calls on follower replicas before any work
// is done, attaching the current leader's rpc address as a hint.
func (s *Server) requireLeader() error {
	if s.cluster.IsLeader() {
		return nil
	}
	return FromError(errs.ErrNotRootLeader, s.cluster.LeaderAddr())
}

func (s *Server) handleJoin(ctx context.Context, msg any) (any, error) {
	req, ok := msg.(*protocol.JoinRequest)
	if !ok {
		return nil, Err(protocol.CodeInvalidArgument, "expected JoinRequest")
	}
	if err := s.requireLeader(); err != nil {
		return nil, err
	}
	resp, err := s.root.Join(ctx, req)
	if err != nil {
		return nil, FromError(err, s.cluster.LeaderAddr())
	}
	return resp, nil
}

func (s *Server) handleReport(ctx context.Context, msg any) (any, error) {
	req, ok := msg.(*protocol.ReportRequest)
	if !ok {
		return nil, Err(protocol.CodeInvalidArgument, "expected ReportRequest")
	}
	if err := s.requireLeader(); err != nil {
		return nil, err
	}
	resp, err := s.root.Report(ctx, req)
	if err != nil {
		return nil, FromError(err, s.cluster.LeaderAddr())
	}
	return resp, nil
}

func (s *Server) handleAllocReplica(ctx context.Context, msg any) (any, error) {
	req, ok := msg.(*protocol.AllocReplicaRequest)
	if !ok {
		return nil, Err(protocol.CodeInvalidArgument, "expected AllocReplicaRequest")
	}
	if err := s.requireLeader(); err != nil {
		return nil, err
	}
	replicas, err := s.root.AllocReplica(ctx, req)
	if err != nil {
		return nil, FromError(err, s.cluster.LeaderAddr())
	}
	return &protocol.AllocReplicaResponse{Replicas: replicas}, nil
}

func (s *Server) handleAllocTxnID(ctx context.Context, msg any) (any, error) {
	req, ok := msg.(*protocol.AllocTxnIDRequest)
	if !ok {
		return nil, Err(protocol.CodeInvalidArgument, "expected AllocTxnIDRequest")
	}
	if err := s.requireLeader(); err != nil {
		return nil, err
	}
	base, err := s.root.AllocTxnID(ctx, req.NumRequired)
	if err != nil {
		return nil, FromError(err, s.cluster.LeaderAddr())
	}
	return &protocol.AllocTxnIDResponse{BaseTxnID: base, Count: req.NumRequired}, nil
}

func (s *Server) handleAdmin(ctx context.Context, msg any) (any, error) {
	req, ok := msg.(*protocol.AdminRequest)
	if !ok {
		return nil, Err(protocol.CodeInvalidArgument, "expected AdminRequest")
	}
	if err := s.requireLeader(); err != nil {
		return nil, err
	}
	resp, err := s.root.Admin(ctx, req)
	if err != nil {
		return nil, FromError(err, s.cluster.LeaderAddr())
	}
	return resp, nil
}

// handleWatch owns its connection: the catch-up batch goes out first, then
// live batches in commit order until the client goes away or falls behind.
func (s *Server) handleWatch(ctx context.Context, msg any, conn net.Conn, codec *protocol.Codec) error {
	req, ok := msg.(*protocol.WatchRequest)
	if !ok {
		return codec.Encode(conn, &protocol.RPCErrorResponse{
			Code: protocol.CodeInvalidArgument, Message: "expected WatchRequest",
		})
	}
	w := s.root.Watch(req.Cursor)
	defer w.Close()
	// Release the subscriber as soon as the client goes away, even while no
	// commits are flowing. The client sends nothing after the subscribe frame,
	// so any read result means the stream is over.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		io.Copy(io.Discard, conn)
	}()
	s.logger.Debug("watch stream opened", zap.String("remote", conn.RemoteAddr().String()))
	for {
		batch, err := w.Next(ctx)
		if err != nil {
			if errors.Is(err, errs.ErrWatcherDropped) {
				// Tell the client why before hanging up so it resubscribes
				// instead of reconnecting blind.
				return codec.Encode(conn, &protocol.RPCErrorResponse{
					Code: protocol.CodeWatcherDropped, Message: err.Error(),
				})
			}
			return err
		}
		if err := codec.Encode(conn, batch); err != nil {
			return err
		}
	}
}
