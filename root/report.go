package root

import (
	"context"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"go.uber.org/zap"
)

// Report ingests a batch of per-group state reports. The three payloads of a
// GroupUpdate apply independently: a stale GroupDesc does not block the
// ReplicaState or ScheduleState riding in the same update, and vice versa.
// Rejections are returned as per-field outcomes, never as a batch failure.
func (r *Root) Report(ctx context.Context, req *protocol.ReportRequest) (*protocol.ReportResponse, error) {
	resp := &protocol.ReportResponse{}
	for _, u := range req.Updates {
		if u.GroupID == 0 {
			resp.Outcomes = append(resp.Outcomes, r.outcome(u.GroupID, FieldFor(&u), errs.ErrMissingField("group_id")))
			continue
		}
		// GroupDesc first so a report can create the group its own replica
		// and schedule states refer to.
		if u.Desc != nil {
			err := r.applyGroupDesc(ctx, u.GroupID, u.Desc)
			resp.Outcomes = append(resp.Outcomes, r.outcome(u.GroupID, protocol.FieldGroupDesc, err))
		}
		if u.ReplicaState != nil {
			err := r.applyReplicaState(ctx, u.GroupID, u.ReplicaState)
			resp.Outcomes = append(resp.Outcomes, r.outcome(u.GroupID, protocol.FieldReplicaState, err))
		}
		if u.ScheduleState != nil {
			err := r.applyScheduleState(ctx, u.GroupID, u.ScheduleState)
			resp.Outcomes = append(resp.Outcomes, r.outcome(u.GroupID, protocol.FieldScheduleState, err))
		}
	}
	return resp, nil
}

func (r *Root) applyGroupDesc(ctx context.Context, groupID uint64, desc *protocol.GroupDesc) error {
	if desc.ID != groupID {
		return errs.ErrInvalidArgumentf("group desc id %d does not match update group id %d", desc.ID, groupID)
	}
	_, err := r.proposer.Propose(ctx, &protocol.Mutation{
		UpdateGroup: &protocol.UpdateGroupMutation{Desc: *desc},
	})
	if err == nil {
		r.logger.Info("updated group desc from report",
			zap.Uint64("group", desc.ID), zap.Uint64("epoch", desc.Epoch))
	}
	return err
}

func (r *Root) applyReplicaState(ctx context.Context, groupID uint64, st *protocol.ReplicaState) error {
	if st.GroupID != groupID {
		return errs.ErrInvalidArgumentf("replica state group id %d does not match update group id %d", st.GroupID, groupID)
	}
	_, err := r.proposer.Propose(ctx, &protocol.Mutation{
		UpdateReplicaState: &protocol.ReplicaStateMutation{State: *st},
	})
	return err
}

func (r *Root) applyScheduleState(ctx context.Context, groupID uint64, st *protocol.ScheduleState) error {
	if st.GroupID != groupID {
		return errs.ErrInvalidArgumentf("schedule state group id %d does not match update group id %d", st.GroupID, groupID)
	}
	_, err := r.proposer.Propose(ctx, &protocol.Mutation{
		UpdateScheduleState: &protocol.ScheduleStateMutation{State: *st},
	})
	return err
}

func (r *Root) outcome(groupID uint64, field string, err error) protocol.FieldOutcome {
	out := protocol.FieldOutcome{GroupID: groupID, Field: field, Code: CodeFor(err)}
	if err != nil {
		out.Message = err.Error()
		r.metrics.ReportUpdates.WithLabelValues(field, "rejected").Inc()
		r.logger.Warn("report field rejected",
			zap.Uint64("group", groupID), zap.String("field", field), zap.Error(err))
	} else {
		r.metrics.ReportUpdates.WithLabelValues(field, "accepted").Inc()
	}
	return out
}

// FieldFor names the first payload present in u, for outcomes that reject the
// whole update (e.g. missing group id).
func FieldFor(u *protocol.GroupUpdate) string {
	switch {
	case u.Desc != nil:
		return protocol.FieldGroupDesc
	case u.ReplicaState != nil:
		return protocol.FieldReplicaState
	case u.ScheduleState != nil:
		return protocol.FieldScheduleState
	default:
		return protocol.FieldGroupDesc
	}
}
