package root

import (
	"context"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"go.uber.org/zap"
)

// Join admits a storage node into the cluster. Joining twice with the same
// address returns the same node id and records nothing new; a fresh address
// gets a sequencer-issued id and a directory entry visible to watchers.
func (r *Root) Join(ctx context.Context, req *protocol.JoinRequest) (*protocol.JoinResponse, error) {
	if req.Addr == "" {
		return nil, errs.ErrMissingField("addr")
	}
	if !r.dir.Bootstrapped() {
		return nil, errs.ErrNotBootstrapped
	}
	if existing, ok := r.dir.GetNodeByAddr(req.Addr); ok {
		return &protocol.JoinResponse{
			ClusterID: r.dir.ClusterID(),
			Node:      existing,
			Root:      r.rootDesc(),
		}, nil
	}

	id, err := r.seq.AllocRange(SeqNode, 1)
	if err != nil {
		return nil, err
	}
	node := protocol.NodeDesc{ID: id, Addr: req.Addr, Capacity: req.Capacity}
	if _, err := r.proposer.Propose(ctx, &protocol.Mutation{
		PutNode: &protocol.PutNodeMutation{Node: node},
	}); err != nil {
		return nil, err
	}
	r.metrics.JoinTotal.Inc()
	r.logger.Info("new node joined cluster", zap.Uint64("node", id), zap.String("addr", req.Addr))
	return &protocol.JoinResponse{
		ClusterID: r.dir.ClusterID(),
		Node:      node,
		Root:      r.rootDesc(),
	}, nil
}
