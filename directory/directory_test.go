package directory

import (
	"errors"
	"testing"

	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/watch"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	return New(watch.NewHub(64, nil), nil)
}

func mustApply(t *testing.T, d *Directory, m *protocol.Mutation) ApplyResult {
	t.Helper()
	res, err := d.Apply(m)
	if err != nil {
		t.Fatalf("Apply(%+v): %v", m, err)
	}
	return res
}

func initCluster(t *testing.T, d *Directory) {
	t.Helper()
	mustApply(t, d, &protocol.Mutation{InitCluster: &protocol.InitClusterMutation{ClusterID: "test-cluster"}})
}

func putNode(t *testing.T, d *Directory, id uint64, addr string) {
	t.Helper()
	mustApply(t, d, &protocol.Mutation{PutNode: &protocol.PutNodeMutation{
		Node: protocol.NodeDesc{ID: id, Addr: addr},
	}})
}

func putGroup(t *testing.T, d *Directory, desc protocol.GroupDesc) {
	t.Helper()
	mustApply(t, d, &protocol.Mutation{UpdateGroup: &protocol.UpdateGroupMutation{Desc: desc}})
}

func putReplicaState(t *testing.T, d *Directory, st protocol.ReplicaState) {
	t.Helper()
	mustApply(t, d, &protocol.Mutation{UpdateReplicaState: &protocol.ReplicaStateMutation{State: st}})
}

func TestInitClusterIdempotent(t *testing.T) {
	d := newTestDirectory(t)
	initCluster(t, d)
	if !d.Bootstrapped() || d.ClusterID() != "test-cluster" {
		t.Fatalf("cluster id = %q, want test-cluster", d.ClusterID())
	}

	res := mustApply(t, d, &protocol.Mutation{InitCluster: &protocol.InitClusterMutation{ClusterID: "test-cluster"}})
	if !res.NoOp {
		t.Fatal("re-init with the same id should be a no-op")
	}
	if _, err := d.Apply(&protocol.Mutation{InitCluster: &protocol.InitClusterMutation{ClusterID: "other"}}); err == nil {
		t.Fatal("re-init with a different id should fail")
	}
}

func TestPutNodeAddrConflict(t *testing.T) {
	d := newTestDirectory(t)
	putNode(t, d, 1, "n1:9500")

	_, err := d.Apply(&protocol.Mutation{PutNode: &protocol.PutNodeMutation{
		Node: protocol.NodeDesc{ID: 2, Addr: "n1:9500"},
	}})
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}

	res := mustApply(t, d, &protocol.Mutation{PutNode: &protocol.PutNodeMutation{
		Node: protocol.NodeDesc{ID: 1, Addr: "n1:9500"},
	}})
	if !res.NoOp {
		t.Fatal("identical re-put should be a no-op")
	}
}

func TestGroupEpochMonotonic(t *testing.T) {
	d := newTestDirectory(t)
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})

	// Lower epoch is rejected, state untouched.
	_, err := d.Apply(&protocol.Mutation{UpdateGroup: &protocol.UpdateGroupMutation{
		Desc: protocol.GroupDesc{ID: 7, Epoch: 1},
	}})
	if !errors.Is(err, errs.ErrStaleEpoch) {
		t.Fatalf("lower epoch: err = %v, want ErrStaleEpoch", err)
	}

	// Equal epoch with identical content is idempotent.
	res := mustApply(t, d, &protocol.Mutation{UpdateGroup: &protocol.UpdateGroupMutation{
		Desc: protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}},
	}})
	if !res.NoOp {
		t.Fatal("equal epoch, identical replicas should be a no-op")
	}

	// Equal epoch with different content is a conflict, not a merge.
	_, err = d.Apply(&protocol.Mutation{UpdateGroup: &protocol.UpdateGroupMutation{
		Desc: protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 71, NodeID: 2, Role: protocol.RoleVoter}}},
	}})
	if !errors.Is(err, errs.ErrStaleEpoch) {
		t.Fatalf("equal epoch, different replicas: err = %v, want ErrStaleEpoch", err)
	}

	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 3, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}, {ID: 71, NodeID: 2, Role: protocol.RoleVoter}}})
	g, _ := d.GetGroup(7)
	if g.Epoch != 3 || len(g.Replicas) != 2 {
		t.Fatalf("group = %+v, want epoch 3 with 2 replicas", g)
	}
}

func TestReplicaStateTermGating(t *testing.T) {
	d := newTestDirectory(t)
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 1, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})

	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 5, Role: protocol.RaftLeader, Applied: 10})

	if id, term, ok := d.RecognizedLeader(7); !ok || id != 70 || term != 5 {
		t.Fatalf("recognized leader = (%d, %d, %v), want (70, 5, true)", id, term, ok)
	}

	// Older term is rejected.
	_, err := d.Apply(&protocol.Mutation{UpdateReplicaState: &protocol.ReplicaStateMutation{
		State: protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 4, Role: protocol.RaftFollower},
	}})
	if !errors.Is(err, errs.ErrStaleTerm) {
		t.Fatalf("err = %v, want ErrStaleTerm", err)
	}
	if _, term, _ := d.RecognizedLeader(7); term != 5 {
		t.Fatalf("rejected state must leave leadership untouched, term = %d", term)
	}

	// Identical state is a no-op.
	res := mustApply(t, d, &protocol.Mutation{UpdateReplicaState: &protocol.ReplicaStateMutation{
		State: protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 5, Role: protocol.RaftLeader, Applied: 10},
	}})
	if !res.NoOp {
		t.Fatal("identical replica state should be a no-op")
	}

	// Leader stepping down at a higher term clears the slot.
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 6, Role: protocol.RaftFollower})
	if _, _, ok := d.RecognizedLeader(7); ok {
		t.Fatal("stepped-down leader should clear recognized leadership")
	}

	// A new claim at that term is accepted.
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 71, Term: 6, Role: protocol.RaftLeader})
	if id, _, _ := d.RecognizedLeader(7); id != 71 {
		t.Fatalf("recognized leader = %d, want 71", id)
	}
}

func TestReplicaStateLeavesDescAndScheduleUntouched(t *testing.T) {
	d := newTestDirectory(t)
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 3, Role: protocol.RaftLeader})
	mustApply(t, d, &protocol.Mutation{UpdateScheduleState: &protocol.ScheduleStateMutation{
		State: protocol.ScheduleState{GroupID: 7, Epoch: 2, LeaderID: 70},
	}})

	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 3, Role: protocol.RaftLeader, Applied: 99})

	g, _ := d.GetGroup(7)
	if g.Epoch != 2 {
		t.Fatalf("replica state update must not move the group epoch, got %d", g.Epoch)
	}
	if _, ok := d.ScheduleState(7); !ok {
		t.Fatal("replica state update must not clear the schedule state")
	}
}

func TestScheduleStateGating(t *testing.T) {
	d := newTestDirectory(t)
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})

	// No recognized leader yet.
	_, err := d.Apply(&protocol.Mutation{UpdateScheduleState: &protocol.ScheduleStateMutation{
		State: protocol.ScheduleState{GroupID: 7, Epoch: 2, LeaderID: 70},
	}})
	if !errors.Is(err, errs.ErrNotLeader) {
		t.Fatalf("err = %v, want ErrNotLeader", err)
	}

	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 3, Role: protocol.RaftLeader})

	// Wrong epoch.
	_, err = d.Apply(&protocol.Mutation{UpdateScheduleState: &protocol.ScheduleStateMutation{
		State: protocol.ScheduleState{GroupID: 7, Epoch: 1, LeaderID: 70},
	}})
	if !errors.Is(err, errs.ErrStaleEpoch) {
		t.Fatalf("err = %v, want ErrStaleEpoch", err)
	}

	// Claimed by a replica the directory does not recognize as leader.
	_, err = d.Apply(&protocol.Mutation{UpdateScheduleState: &protocol.ScheduleStateMutation{
		State: protocol.ScheduleState{GroupID: 7, Epoch: 2, LeaderID: 71},
	}})
	if !errors.Is(err, errs.ErrNotLeader) {
		t.Fatalf("err = %v, want ErrNotLeader", err)
	}

	mustApply(t, d, &protocol.Mutation{UpdateScheduleState: &protocol.ScheduleStateMutation{
		State: protocol.ScheduleState{GroupID: 7, Epoch: 2, LeaderID: 70, IncomingReplicas: []uint64{72}},
	}})
	st, ok := d.ScheduleState(7)
	if !ok || len(st.IncomingReplicas) != 1 {
		t.Fatalf("schedule state = %+v, %v", st, ok)
	}
}

func TestDeleteDatabaseCascades(t *testing.T) {
	d := newTestDirectory(t)
	mustApply(t, d, &protocol.Mutation{PutDatabase: &protocol.PutDatabaseMutation{Desc: protocol.DatabaseDesc{ID: 1, Name: "db1"}}})
	mustApply(t, d, &protocol.Mutation{PutDatabase: &protocol.PutDatabaseMutation{Desc: protocol.DatabaseDesc{ID: 2, Name: "db2"}}})
	mustApply(t, d, &protocol.Mutation{PutCollection: &protocol.PutCollectionMutation{Desc: protocol.CollectionDesc{ID: 10, Database: 1, Name: "c1"}}})
	mustApply(t, d, &protocol.Mutation{PutCollection: &protocol.PutCollectionMutation{Desc: protocol.CollectionDesc{ID: 11, Database: 1, Name: "c2"}}})
	mustApply(t, d, &protocol.Mutation{PutCollection: &protocol.PutCollectionMutation{Desc: protocol.CollectionDesc{ID: 12, Database: 2, Name: "c1"}}})

	mustApply(t, d, &protocol.Mutation{DeleteDatabase: &protocol.DeleteDatabaseMutation{ID: 1}})

	if _, ok := d.GetDatabase("db1"); ok {
		t.Fatal("db1 should be gone")
	}
	if colls := d.ListCollections(1); len(colls) != 0 {
		t.Fatalf("db1 collections should be gone, got %v", colls)
	}
	if colls := d.ListCollections(2); len(colls) != 1 {
		t.Fatalf("db2 collections should survive, got %v", colls)
	}
}

func TestRevisionAdvancesOnlyOnEffectiveWrites(t *testing.T) {
	d := newTestDirectory(t)
	putNode(t, d, 1, "n1:9500")
	rev := d.Revision()

	res := mustApply(t, d, &protocol.Mutation{PutNode: &protocol.PutNodeMutation{
		Node: protocol.NodeDesc{ID: 1, Addr: "n1:9500"},
	}})
	if !res.NoOp || res.Revision != rev {
		t.Fatalf("no-op result = %+v, want revision %d unchanged", res, rev)
	}
	if d.Revision() != rev {
		t.Fatalf("revision = %d, want %d", d.Revision(), rev)
	}

	putNode(t, d, 2, "n2:9500")
	if d.Revision() != rev+1 {
		t.Fatalf("revision = %d, want %d", d.Revision(), rev+1)
	}
}

func TestSnapshotRestoreRoundtrip(t *testing.T) {
	d := newTestDirectory(t)
	initCluster(t, d)
	putNode(t, d, 1, "n1:9500")
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 3, Role: protocol.RaftLeader})
	mustApply(t, d, &protocol.Mutation{PutDatabase: &protocol.PutDatabaseMutation{Desc: protocol.DatabaseDesc{ID: 1, Name: "db1"}}})

	data, err := d.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored := newTestDirectory(t)
	if err := restored.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.ClusterID() != d.ClusterID() || restored.Revision() != d.Revision() {
		t.Fatalf("restored (%q, %d), want (%q, %d)", restored.ClusterID(), restored.Revision(), d.ClusterID(), d.Revision())
	}
	if g, ok := restored.GetGroup(7); !ok || g.Epoch != 2 {
		t.Fatalf("restored group = %+v, %v", g, ok)
	}
	if id, term, ok := restored.RecognizedLeader(7); !ok || id != 70 || term != 3 {
		t.Fatalf("restored leader = (%d, %d, %v), want (70, 3, true)", id, term, ok)
	}

	// The restored directory keeps accepting writes where the old one left off.
	_, err = restored.Apply(&protocol.Mutation{UpdateGroup: &protocol.UpdateGroupMutation{
		Desc: protocol.GroupDesc{ID: 7, Epoch: 1},
	}})
	if !errors.Is(err, errs.ErrStaleEpoch) {
		t.Fatalf("restored directory must keep epoch checks, err = %v", err)
	}
}
