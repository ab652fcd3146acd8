package root

import (
	"context"
	"sort"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"go.uber.org/zap"
)

// AllocReplica reserves identity and placement for num new replicas of a
// group. The caller must be the group's recognized leader at the recorded
// term, and its epoch must match the directory's; otherwise it has to refresh
// its view first. Committing bumps the group epoch, so a retried call with
// the old epoch fails cleanly instead of double-allocating.
//
// The call only records the decision; propagating it into the group's
// replication protocol is the caller's job, using the returned descriptors.
func (r *Root) AllocReplica(ctx context.Context, req *protocol.AllocReplicaRequest) ([]protocol.ReplicaDesc, error) {
	if req.GroupID == 0 {
		return nil, errs.ErrMissingField("group_id")
	}
	if req.NumRequired == 0 {
		return nil, errs.ErrMissingField("num_required")
	}
	group, ok := r.dir.GetGroup(req.GroupID)
	if !ok {
		return nil, errs.ErrGroupNotFoundf(req.GroupID)
	}
	leaderID, leaderTerm, ok := r.dir.RecognizedLeader(req.GroupID)
	if !ok || req.LeaderID != leaderID {
		return nil, errs.ErrNotLeaderf(req.GroupID, req.LeaderID)
	}
	if req.CurrentTerm != leaderTerm {
		return nil, errs.ErrStaleTermf(req.GroupID, req.LeaderID, req.CurrentTerm, leaderTerm)
	}
	if req.Epoch != group.Epoch {
		return nil, errs.ErrStaleEpochf(req.GroupID, req.Epoch, group.Epoch)
	}

	nodes, err := r.selectNodes(&group, int(req.NumRequired))
	if err != nil {
		return nil, err
	}
	base, err := r.seq.AllocRange(SeqReplica, req.NumRequired)
	if err != nil {
		return nil, err
	}
	fresh := make([]protocol.ReplicaDesc, 0, len(nodes))
	for i, nodeID := range nodes {
		fresh = append(fresh, protocol.ReplicaDesc{
			ID:     base + uint64(i),
			NodeID: nodeID,
			Role:   protocol.RoleVoter,
		})
	}

	next := protocol.GroupDesc{
		ID:       group.ID,
		Epoch:    group.Epoch + 1,
		Replicas: append(group.Replicas, fresh...),
	}
	if _, err := r.proposer.Propose(ctx, &protocol.Mutation{
		UpdateGroup: &protocol.UpdateGroupMutation{Desc: next},
	}); err != nil {
		return nil, err
	}
	r.metrics.ReplicasAllocated.Add(float64(len(fresh)))
	r.logger.Info("allocated replicas",
		zap.Uint64("group", req.GroupID),
		zap.Uint64("epoch", next.Epoch),
		zap.Uint64s("nodes", nodes))
	return fresh, nil
}

// selectNodes picks num distinct nodes not already hosting a replica of the
// group, preferring the least loaded; ties go to the lowest node id so the
// choice is deterministic.
func (r *Root) selectNodes(group *protocol.GroupDesc, num int) ([]uint64, error) {
	occupied := make(map[uint64]bool, len(group.Replicas))
	for _, rep := range group.Replicas {
		occupied[rep.NodeID] = true
	}
	counts := r.dir.ReplicaCountByNode()

	type candidate struct {
		id    uint64
		score int
	}
	var candidates []candidate
	for _, n := range r.dir.ListNodes() {
		if occupied[n.ID] {
			continue
		}
		score := counts[n.ID]
		// A node reporting more replicas than the directory has placed is
		// carrying load the directory does not know about yet; trust the
		// larger figure.
		if reported := int(n.Capacity.ReplicaCount); reported > score {
			score = reported
		}
		candidates = append(candidates, candidate{id: n.ID, score: score})
	}
	if len(candidates) < num {
		return nil, errs.ErrNotEnoughNodesf(num, len(candidates))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	out := make([]uint64, 0, num)
	for _, c := range candidates[:num] {
		out = append(out, c.id)
	}
	return out, nil
}
