// Package directory holds the authoritative in-memory projection of the
// cluster: nodes, groups, replicas, databases, collections. All writes go
// through Apply, the single mutation entry point; every accepted mutation
// bumps the global revision and is fanned out to watchers. Rejected mutations
// have no observable effect.
//
// Apply validates and commits under one mutex, so mutations never interleave.
// The ordering precondition among writers (root leadership) is supplied by the
// raft layer in coordinator; the directory enforces the epoch/term checks that
// make out-of-order writers fail cleanly.
package directory

import (
	"slices"
	"sync"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/watch"
	"go.uber.org/zap"
)

// ApplyResult reports the outcome of an accepted mutation. NoOp is set for
// idempotent retries (equal epoch with identical content and the like): the
// state is already what the caller asked for, no revision was consumed.
type ApplyResult struct {
	Revision uint64 `json:"revision"`
	NoOp     bool   `json:"no_op,omitempty"`
}

type replicaEntry struct {
	State protocol.ReplicaState `json:"state"`
	// UpdateEpoch is the group epoch current when this state was written.
	// Watch catch-up includes the entry when UpdateEpoch > cursor epoch.
	UpdateEpoch uint64 `json:"update_epoch"`
}

type scheduleEntry struct {
	State       protocol.ScheduleState `json:"state"`
	UpdateEpoch uint64                 `json:"update_epoch"`
}

type groupEntry struct {
	Desc     protocol.GroupDesc       `json:"desc"`
	Replicas map[uint64]*replicaEntry `json:"replicas"`
	Schedule *scheduleEntry           `json:"schedule,omitempty"`
	// Recognized leader, derived from ReplicaState reports: the replica that
	// last claimed leadership at the highest term. LeaderID 0 means none.
	LeaderID   uint64 `json:"leader_id"`
	LeaderTerm uint64 `json:"leader_term"`
}

type Directory struct {
	mu     sync.RWMutex
	logger *zap.Logger
	hub    *watch.Hub

	clusterID   string
	revision    uint64
	nodes       map[uint64]*protocol.NodeDesc
	groups      map[uint64]*groupEntry
	databases   map[uint64]*protocol.DatabaseDesc
	collections map[uint64]*protocol.CollectionDesc
}

func New(hub *watch.Hub, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		logger:      logger,
		hub:         hub,
		nodes:       make(map[uint64]*protocol.NodeDesc),
		groups:      make(map[uint64]*groupEntry),
		databases:   make(map[uint64]*protocol.DatabaseDesc),
		collections: make(map[uint64]*protocol.CollectionDesc),
	}
}

// Apply validates the mutation against the current state and commits it,
// all-or-nothing. On success the global revision is bumped (unless NoOp) and
// the resulting events are appended to the watch hub's change log.
func (d *Directory) Apply(m *protocol.Mutation) (ApplyResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rec watch.ChangeRecord
	var noop bool
	var err error
	switch mut := m.Which().(type) {
	case *protocol.InitClusterMutation:
		noop, err = d.applyInitCluster(mut)
	case *protocol.PutNodeMutation:
		noop, err = d.applyPutNode(mut, &rec)
	case *protocol.UpdateGroupMutation:
		noop, err = d.applyUpdateGroup(mut, &rec)
	case *protocol.DeleteGroupMutation:
		err = d.applyDeleteGroup(mut, &rec)
	case *protocol.ReplicaStateMutation:
		noop, err = d.applyReplicaState(mut, &rec)
	case *protocol.ScheduleStateMutation:
		noop, err = d.applyScheduleState(mut, &rec)
	case *protocol.PutDatabaseMutation:
		noop, err = d.applyPutDatabase(mut, &rec)
	case *protocol.DeleteDatabaseMutation:
		err = d.applyDeleteDatabase(mut, &rec)
	case *protocol.PutCollectionMutation:
		noop, err = d.applyPutCollection(mut, &rec)
	case *protocol.DeleteCollectionMutation:
		err = d.applyDeleteCollection(mut, &rec)
	default:
		err = errs.ErrMissingField("mutation")
	}
	if err != nil {
		return ApplyResult{}, err
	}
	if noop {
		return ApplyResult{Revision: d.revision, NoOp: true}, nil
	}
	d.revision++
	rec.Revision = d.revision
	if d.hub != nil && (len(rec.Updates) > 0 || len(rec.Deletes) > 0) {
		d.hub.Notify(rec)
	}
	return ApplyResult{Revision: d.revision}, nil
}

func (d *Directory) applyInitCluster(m *protocol.InitClusterMutation) (bool, error) {
	if m.ClusterID == "" {
		return false, errs.ErrMissingField("cluster_id")
	}
	if d.clusterID != "" {
		if d.clusterID == m.ClusterID {
			return true, nil
		}
		return false, errs.ErrInvalidArgumentf("cluster already initialized with id %s", d.clusterID)
	}
	d.clusterID = m.ClusterID
	return false, nil
}

func (d *Directory) applyPutNode(m *protocol.PutNodeMutation, rec *watch.ChangeRecord) (bool, error) {
	node := m.Node
	if node.ID == 0 {
		return false, errs.ErrMissingField("node.id")
	}
	if node.Addr == "" {
		return false, errs.ErrMissingField("node.addr")
	}
	for id, existing := range d.nodes {
		if existing.Addr == node.Addr && id != node.ID {
			return false, errs.ErrInvalidArgumentf("node address %s already registered as node %d", node.Addr, id)
		}
	}
	if existing, ok := d.nodes[node.ID]; ok && *existing == node {
		return true, nil
	}
	stored := node
	d.nodes[node.ID] = &stored
	rec.Updates = append(rec.Updates, protocol.UpdateEvent{Node: &stored})
	return false, nil
}

func (d *Directory) applyUpdateGroup(m *protocol.UpdateGroupMutation, rec *watch.ChangeRecord) (bool, error) {
	desc := m.Desc
	if desc.ID == 0 {
		return false, errs.ErrMissingField("group.id")
	}
	if desc.Epoch == 0 {
		return false, errs.ErrMissingField("group.epoch")
	}
	g, ok := d.groups[desc.ID]
	if ok {
		switch {
		case desc.Epoch < g.Desc.Epoch:
			return false, errs.ErrStaleEpochf(desc.ID, desc.Epoch, g.Desc.Epoch)
		case desc.Epoch == g.Desc.Epoch:
			if slices.Equal(desc.Replicas, g.Desc.Replicas) {
				return true, nil
			}
			return false, errs.ErrStaleEpochf(desc.ID, desc.Epoch, g.Desc.Epoch)
		}
		g.Desc = copyGroupDesc(desc)
	} else {
		g = &groupEntry{
			Desc:     copyGroupDesc(desc),
			Replicas: make(map[uint64]*replicaEntry),
		}
		d.groups[desc.ID] = g
		d.logger.Info("group created", zap.Uint64("group", desc.ID), zap.Uint64("epoch", desc.Epoch))
	}
	out := copyGroupDesc(g.Desc)
	rec.Updates = append(rec.Updates, protocol.UpdateEvent{Group: &out})
	return false, nil
}

func (d *Directory) applyDeleteGroup(m *protocol.DeleteGroupMutation, rec *watch.ChangeRecord) error {
	if _, ok := d.groups[m.GroupID]; !ok {
		return errs.ErrGroupNotFoundf(m.GroupID)
	}
	delete(d.groups, m.GroupID)
	rec.Deletes = append(rec.Deletes, protocol.DeleteEvent{Kind: protocol.KindGroup, ID: m.GroupID})
	return nil
}

func (d *Directory) applyReplicaState(m *protocol.ReplicaStateMutation, rec *watch.ChangeRecord) (bool, error) {
	st := m.State
	if st.GroupID == 0 {
		return false, errs.ErrMissingField("replica_state.group_id")
	}
	if st.ReplicaID == 0 {
		return false, errs.ErrMissingField("replica_state.replica_id")
	}
	g, ok := d.groups[st.GroupID]
	if !ok {
		return false, errs.ErrGroupNotFoundf(st.GroupID)
	}
	if prev, ok := g.Replicas[st.ReplicaID]; ok {
		if st.Term < prev.State.Term {
			return false, errs.ErrStaleTermf(st.GroupID, st.ReplicaID, st.Term, prev.State.Term)
		}
		if prev.State == st {
			return true, nil
		}
	}
	g.Replicas[st.ReplicaID] = &replicaEntry{State: st, UpdateEpoch: g.Desc.Epoch}
	// Leadership attribution: the latest claim at the highest term wins. A
	// former leader stepping down at the same or higher term clears the slot.
	if st.Role == protocol.RaftLeader && st.Term >= g.LeaderTerm {
		g.LeaderID, g.LeaderTerm = st.ReplicaID, st.Term
	} else if st.ReplicaID == g.LeaderID && st.Term >= g.LeaderTerm {
		g.LeaderID, g.LeaderTerm = 0, st.Term
	}
	out := st
	rec.Updates = append(rec.Updates, protocol.UpdateEvent{ReplicaState: &out})
	return false, nil
}

func (d *Directory) applyScheduleState(m *protocol.ScheduleStateMutation, rec *watch.ChangeRecord) (bool, error) {
	st := m.State
	if st.GroupID == 0 {
		return false, errs.ErrMissingField("schedule_state.group_id")
	}
	g, ok := d.groups[st.GroupID]
	if !ok {
		return false, errs.ErrGroupNotFoundf(st.GroupID)
	}
	if st.Epoch != g.Desc.Epoch {
		return false, errs.ErrStaleEpochf(st.GroupID, st.Epoch, g.Desc.Epoch)
	}
	if g.LeaderID == 0 || st.LeaderID != g.LeaderID {
		return false, errs.ErrNotLeaderf(st.GroupID, st.LeaderID)
	}
	if g.Schedule != nil && scheduleEqual(g.Schedule.State, st) {
		return true, nil
	}
	g.Schedule = &scheduleEntry{State: copyScheduleState(st), UpdateEpoch: g.Desc.Epoch}
	out := copyScheduleState(st)
	rec.Updates = append(rec.Updates, protocol.UpdateEvent{ScheduleState: &out})
	return false, nil
}

func (d *Directory) applyPutDatabase(m *protocol.PutDatabaseMutation, rec *watch.ChangeRecord) (bool, error) {
	desc := m.Desc
	if desc.ID == 0 {
		return false, errs.ErrMissingField("database.id")
	}
	if desc.Name == "" {
		return false, errs.ErrMissingField("database.name")
	}
	for id, existing := range d.databases {
		if existing.Name == desc.Name && id != desc.ID {
			return false, errs.ErrDatabaseExistsf(desc.Name)
		}
	}
	if existing, ok := d.databases[desc.ID]; ok && *existing == desc {
		return true, nil
	}
	stored := desc
	d.databases[desc.ID] = &stored
	rec.Updates = append(rec.Updates, protocol.UpdateEvent{Database: &stored})
	return false, nil
}

func (d *Directory) applyDeleteDatabase(m *protocol.DeleteDatabaseMutation, rec *watch.ChangeRecord) error {
	if _, ok := d.databases[m.ID]; !ok {
		return errs.ErrDatabaseNotFound
	}
	// Collections belong to the database; removing it removes them too.
	for id, coll := range d.collections {
		if coll.Database == m.ID {
			delete(d.collections, id)
			rec.Deletes = append(rec.Deletes, protocol.DeleteEvent{Kind: protocol.KindCollection, ID: id})
		}
	}
	delete(d.databases, m.ID)
	rec.Deletes = append(rec.Deletes, protocol.DeleteEvent{Kind: protocol.KindDatabase, ID: m.ID})
	return nil
}

func (d *Directory) applyPutCollection(m *protocol.PutCollectionMutation, rec *watch.ChangeRecord) (bool, error) {
	desc := m.Desc
	if desc.ID == 0 {
		return false, errs.ErrMissingField("collection.id")
	}
	if desc.Name == "" {
		return false, errs.ErrMissingField("collection.name")
	}
	if _, ok := d.databases[desc.Database]; !ok {
		return false, errs.ErrDatabaseNotFound
	}
	for id, existing := range d.collections {
		if existing.Database == desc.Database && existing.Name == desc.Name && id != desc.ID {
			return false, errs.ErrAlreadyExists
		}
	}
	if existing, ok := d.collections[desc.ID]; ok && *existing == desc {
		return true, nil
	}
	stored := desc
	d.collections[desc.ID] = &stored
	rec.Updates = append(rec.Updates, protocol.UpdateEvent{Collection: &stored})
	return false, nil
}

func (d *Directory) applyDeleteCollection(m *protocol.DeleteCollectionMutation, rec *watch.ChangeRecord) error {
	if _, ok := d.collections[m.ID]; !ok {
		return errs.ErrCollectionNotFound
	}
	delete(d.collections, m.ID)
	rec.Deletes = append(rec.Deletes, protocol.DeleteEvent{Kind: protocol.KindCollection, ID: m.ID})
	return nil
}

func copyGroupDesc(desc protocol.GroupDesc) protocol.GroupDesc {
	out := desc
	out.Replicas = slices.Clone(desc.Replicas)
	return out
}

func copyScheduleState(st protocol.ScheduleState) protocol.ScheduleState {
	out := st
	out.IncomingReplicas = slices.Clone(st.IncomingReplicas)
	out.OutgoingReplicas = slices.Clone(st.OutgoingReplicas)
	return out
}

func scheduleEqual(a, b protocol.ScheduleState) bool {
	return a.GroupID == b.GroupID && a.Epoch == b.Epoch && a.LeaderID == b.LeaderID &&
		slices.Equal(a.IncomingReplicas, b.IncomingReplicas) &&
		slices.Equal(a.OutgoingReplicas, b.OutgoingReplicas)
}
