package directory

import (
	"sort"

	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/watch"
)

// Watch registers a subscriber and computes its catch-up batch in one step,
// under the same lock Apply commits under. Nothing can commit between the
// snapshot and the registration, so the stream starts exactly where the
// catch-up batch ends.
//
// cursor maps group id to the last epoch the caller observed. A group desc is
// included when its epoch moved past the cursor. Replica and schedule states
// are volatile and can be rewritten within an epoch (term bumps, progress), so
// those written at the cursor epoch are replayed too; last-writer-wins makes
// the duplicates harmless. Nodes, databases and collections are not covered by
// the cursor and are always included in full. A cursor group the directory no
// longer knows becomes a delete event.
func (d *Directory) Watch(cursor map[uint64]uint64) *watch.Watcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	updates, deletes := d.catchupLocked(cursor)
	return d.hub.Subscribe(&protocol.WatchResponse{Updates: updates, Deletes: deletes})
}

func (d *Directory) catchupLocked(cursor map[uint64]uint64) ([]protocol.UpdateEvent, []protocol.DeleteEvent) {
	var updates []protocol.UpdateEvent
	var deletes []protocol.DeleteEvent

	for _, id := range sortedKeys(d.nodes) {
		n := *d.nodes[id]
		updates = append(updates, protocol.UpdateEvent{Node: &n})
	}
	for _, id := range sortedKeys(d.databases) {
		db := *d.databases[id]
		updates = append(updates, protocol.UpdateEvent{Database: &db})
	}
	for _, id := range sortedKeys(d.collections) {
		coll := *d.collections[id]
		updates = append(updates, protocol.UpdateEvent{Collection: &coll})
	}

	for _, id := range sortedKeys(d.groups) {
		g := d.groups[id]
		since := cursor[id]
		if g.Desc.Epoch > since {
			desc := copyGroupDesc(g.Desc)
			updates = append(updates, protocol.UpdateEvent{Group: &desc})
		}
		for _, rid := range sortedKeys(g.Replicas) {
			r := g.Replicas[rid]
			if r.UpdateEpoch >= since {
				st := r.State
				updates = append(updates, protocol.UpdateEvent{ReplicaState: &st})
			}
		}
		if g.Schedule != nil && g.Schedule.UpdateEpoch >= since {
			st := copyScheduleState(g.Schedule.State)
			updates = append(updates, protocol.UpdateEvent{ScheduleState: &st})
		}
	}

	for _, id := range sortedKeys(cursor) {
		if _, ok := d.groups[id]; !ok {
			deletes = append(deletes, protocol.DeleteEvent{Kind: protocol.KindGroup, ID: id})
		}
	}
	return updates, deletes
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
