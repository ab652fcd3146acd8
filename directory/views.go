package directory

import (
	"sort"

	"github.com/JackDrogon/sekas/protocol"
)

// Read-side accessors. All return copies; watchers and RPC handlers must not
// observe in-place mutation.

func (d *Directory) Bootstrapped() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clusterID != ""
}

func (d *Directory) ClusterID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clusterID
}

func (d *Directory) Revision() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

func (d *Directory) GetNode(id uint64) (protocol.NodeDesc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return protocol.NodeDesc{}, false
	}
	return *n, true
}

func (d *Directory) GetNodeByAddr(addr string) (protocol.NodeDesc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.nodes {
		if n.Addr == addr {
			return *n, true
		}
	}
	return protocol.NodeDesc{}, false
}

func (d *Directory) ListNodes() []protocol.NodeDesc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.NodeDesc, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) GetGroup(id uint64) (protocol.GroupDesc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return protocol.GroupDesc{}, false
	}
	return copyGroupDesc(g.Desc), true
}

func (d *Directory) ListGroups() []protocol.GroupDesc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.GroupDesc, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, copyGroupDesc(g.Desc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) ReplicaStates(groupID uint64) []protocol.ReplicaState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]protocol.ReplicaState, 0, len(g.Replicas))
	for _, r := range g.Replicas {
		out = append(out, r.State)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReplicaID < out[j].ReplicaID })
	return out
}

func (d *Directory) ScheduleState(groupID uint64) (protocol.ScheduleState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok || g.Schedule == nil {
		return protocol.ScheduleState{}, false
	}
	return copyScheduleState(g.Schedule.State), true
}

// RecognizedLeader returns the replica id and term the directory currently
// attributes group leadership to. ok is false when no replica has claimed
// leadership yet.
func (d *Directory) RecognizedLeader(groupID uint64) (replicaID, term uint64, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, exists := d.groups[groupID]
	if !exists || g.LeaderID == 0 {
		return 0, 0, false
	}
	return g.LeaderID, g.LeaderTerm, true
}

// ReplicaCountByNode counts, per node, the replicas placed on it across all
// group descriptions. The allocator uses it as the placement score.
func (d *Directory) ReplicaCountByNode() map[uint64]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	counts := make(map[uint64]int, len(d.nodes))
	for _, g := range d.groups {
		for _, r := range g.Desc.Replicas {
			counts[r.NodeID]++
		}
	}
	return counts
}

func (d *Directory) GetDatabase(name string) (protocol.DatabaseDesc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, db := range d.databases {
		if db.Name == name {
			return *db, true
		}
	}
	return protocol.DatabaseDesc{}, false
}

func (d *Directory) ListDatabases() []protocol.DatabaseDesc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.DatabaseDesc, 0, len(d.databases))
	for _, db := range d.databases {
		out = append(out, *db)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) GetCollection(databaseID uint64, name string) (protocol.CollectionDesc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, coll := range d.collections {
		if coll.Database == databaseID && coll.Name == name {
			return *coll, true
		}
	}
	return protocol.CollectionDesc{}, false
}

func (d *Directory) ListCollections(databaseID uint64) []protocol.CollectionDesc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.CollectionDesc, 0)
	for _, coll := range d.collections {
		if coll.Database == databaseID {
			out = append(out, *coll)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
