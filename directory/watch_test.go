package directory

import (
	"context"
	"testing"
	"time"

	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/watch"
)

func recv(t *testing.T, w *watch.Watcher) *protocol.WatchResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := w.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return batch
}

func TestWatchFromScratchSeesEverything(t *testing.T) {
	d := newTestDirectory(t)
	putNode(t, d, 1, "n1:9500")
	putNode(t, d, 2, "n2:9500")
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 1, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})
	mustApply(t, d, &protocol.Mutation{PutDatabase: &protocol.PutDatabaseMutation{Desc: protocol.DatabaseDesc{ID: 1, Name: "db1"}}})

	w := d.Watch(nil)
	defer w.Close()
	init := recv(t, w)

	var nodes, groups, dbs int
	for _, u := range init.Updates {
		switch u.Which().(type) {
		case *protocol.NodeDesc:
			nodes++
		case *protocol.GroupDesc:
			groups++
		case *protocol.DatabaseDesc:
			dbs++
		}
	}
	if nodes != 2 || groups != 1 || dbs != 1 {
		t.Fatalf("catch-up = %d nodes, %d groups, %d dbs; want 2, 1, 1", nodes, groups, dbs)
	}
	if len(init.Deletes) != 0 {
		t.Fatalf("fresh catch-up should carry no deletes, got %v", init.Deletes)
	}
}

func TestWatchCursorSkipsAlreadySeenEpochs(t *testing.T) {
	d := newTestDirectory(t)
	putNode(t, d, 1, "n1:9500")
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 1, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 2, Role: protocol.RaftLeader})
	mustApply(t, d, &protocol.Mutation{UpdateScheduleState: &protocol.ScheduleStateMutation{
		State: protocol.ScheduleState{GroupID: 7, Epoch: 1, LeaderID: 70},
	}})

	// Move the group past the cursor and record one replica state at the new
	// epoch; everything written at epoch 1 stays behind the cursor.
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 3, Replicas: []protocol.ReplicaDesc{
		{ID: 70, NodeID: 1, Role: protocol.RoleVoter},
		{ID: 71, NodeID: 1, Role: protocol.RoleVoter},
	}})
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 71, Term: 2, Role: protocol.RaftFollower})

	w := d.Watch(map[uint64]uint64{7: 2})
	defer w.Close()
	init := recv(t, w)

	var sawDesc, sawNewState, sawOldState, sawSchedule bool
	for _, u := range init.Updates {
		switch v := u.Which().(type) {
		case *protocol.GroupDesc:
			sawDesc = v.Epoch == 3
		case *protocol.ReplicaState:
			if v.ReplicaID == 71 {
				sawNewState = true
			}
			if v.ReplicaID == 70 {
				sawOldState = true
			}
		case *protocol.ScheduleState:
			sawSchedule = true
		}
	}
	if !sawDesc {
		t.Fatal("catch-up should include the group desc past the cursor")
	}
	if !sawNewState {
		t.Fatal("catch-up should include the replica state written at epoch 3")
	}
	if sawOldState {
		t.Fatal("catch-up must not replay the replica state written at epoch 1")
	}
	if sawSchedule {
		t.Fatal("catch-up must not replay the schedule state written at epoch 1")
	}
}

func TestWatchCursorAtCurrentEpochGetsNodesOnly(t *testing.T) {
	d := newTestDirectory(t)
	putNode(t, d, 1, "n1:9500")
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})

	w := d.Watch(map[uint64]uint64{7: 2})
	defer w.Close()
	init := recv(t, w)
	for _, u := range init.Updates {
		if _, ok := u.Which().(*protocol.GroupDesc); ok {
			t.Fatalf("group at cursor epoch must not be replayed: %+v", u)
		}
	}
}

func TestWatchCursorReplaysVolatileStateAtCursorEpoch(t *testing.T) {
	d := newTestDirectory(t)
	putNode(t, d, 1, "n1:9500")
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 2, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 5, Role: protocol.RaftLeader})
	// Rewritten within the same epoch: the term moved but the epoch did not.
	putReplicaState(t, d, protocol.ReplicaState{GroupID: 7, ReplicaID: 70, Term: 6, Role: protocol.RaftLeader})

	w := d.Watch(map[uint64]uint64{7: 2})
	defer w.Close()
	init := recv(t, w)

	var state *protocol.ReplicaState
	for _, u := range init.Updates {
		switch v := u.Which().(type) {
		case *protocol.GroupDesc:
			t.Fatalf("group desc at cursor epoch must not be replayed: %+v", v)
		case *protocol.ReplicaState:
			state = v
		}
	}
	if state == nil || state.Term != 6 {
		t.Fatalf("state = %+v, want the latest term 6 replayed despite the cursor", state)
	}
}

func TestWatchVanishedCursorGroupBecomesDelete(t *testing.T) {
	d := newTestDirectory(t)
	w := d.Watch(map[uint64]uint64{42: 5})
	defer w.Close()
	init := recv(t, w)
	if len(init.Deletes) != 1 || init.Deletes[0].Kind != protocol.KindGroup || init.Deletes[0].ID != 42 {
		t.Fatalf("deletes = %+v, want one KindGroup 42", init.Deletes)
	}
}

func TestWatchStreamsLiveCommits(t *testing.T) {
	d := newTestDirectory(t)
	w := d.Watch(nil)
	defer w.Close()
	recv(t, w) // empty catch-up

	putNode(t, d, 1, "n1:9500")
	putGroup(t, d, protocol.GroupDesc{ID: 7, Epoch: 1, Replicas: []protocol.ReplicaDesc{{ID: 70, NodeID: 1, Role: protocol.RoleVoter}}})
	mustApply(t, d, &protocol.Mutation{DeleteGroup: &protocol.DeleteGroupMutation{GroupID: 7}})

	batch := recv(t, w)
	if batch.Updates[0].Node == nil {
		t.Fatalf("first live batch = %+v, want node update", batch)
	}
	batch = recv(t, w)
	if batch.Updates[0].Group == nil {
		t.Fatalf("second live batch = %+v, want group update", batch)
	}
	batch = recv(t, w)
	if len(batch.Deletes) != 1 || batch.Deletes[0].ID != 7 {
		t.Fatalf("third live batch = %+v, want group delete", batch)
	}
}

func TestWatchSeesAdminEntities(t *testing.T) {
	d := newTestDirectory(t)
	w := d.Watch(nil)
	defer w.Close()
	recv(t, w) // empty catch-up

	mustApply(t, d, &protocol.Mutation{PutDatabase: &protocol.PutDatabaseMutation{Desc: protocol.DatabaseDesc{ID: 1, Name: "db1"}}})
	mustApply(t, d, &protocol.Mutation{PutCollection: &protocol.PutCollectionMutation{Desc: protocol.CollectionDesc{ID: 10, Database: 1, Name: "c1"}}})

	if batch := recv(t, w); batch.Updates[0].Database == nil {
		t.Fatalf("batch = %+v, want database update", batch)
	}
	if batch := recv(t, w); batch.Updates[0].Collection == nil {
		t.Fatalf("batch = %+v, want collection update", batch)
	}

	// Deleting the database deletes its collections in the same batch.
	mustApply(t, d, &protocol.Mutation{DeleteDatabase: &protocol.DeleteDatabaseMutation{ID: 1}})
	batch := recv(t, w)
	if len(batch.Deletes) != 2 {
		t.Fatalf("deletes = %+v, want collection and database", batch.Deletes)
	}
	kinds := map[protocol.EntityKind]uint64{}
	for _, del := range batch.Deletes {
		kinds[del.Kind] = del.ID
	}
	if kinds[protocol.KindCollection] != 10 || kinds[protocol.KindDatabase] != 1 {
		t.Fatalf("deletes = %+v, want collection 10 and database 1", batch.Deletes)
	}
}

func TestWatchNoOpCommitsProduceNoBatch(t *testing.T) {
	d := newTestDirectory(t)
	putNode(t, d, 1, "n1:9500")
	w := d.Watch(nil)
	defer w.Close()
	recv(t, w) // catch-up with the node

	// Idempotent re-put: no revision, no batch.
	mustApply(t, d, &protocol.Mutation{PutNode: &protocol.PutNodeMutation{
		Node: protocol.NodeDesc{ID: 1, Addr: "n1:9500"},
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if batch, err := w.Next(ctx); err == nil {
		t.Fatalf("no-op should not reach watchers, got %+v", batch)
	}
}
