package directory

import (
	"encoding/json"

	"github.com/JackDrogon/sekas/protocol"
)

// snapshotState is the serialized form of the directory, written into raft
// snapshots and restored on replica catch-up.
type snapshotState struct {
	ClusterID   string                              `json:"cluster_id"`
	Revision    uint64                              `json:"revision"`
	Nodes       map[uint64]*protocol.NodeDesc       `json:"nodes"`
	Groups      map[uint64]*groupEntry              `json:"groups"`
	Databases   map[uint64]*protocol.DatabaseDesc   `json:"databases"`
	Collections map[uint64]*protocol.CollectionDesc `json:"collections"`
}

func (d *Directory) Snapshot() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(snapshotState{
		ClusterID:   d.clusterID,
		Revision:    d.revision,
		Nodes:       d.nodes,
		Groups:      d.groups,
		Databases:   d.databases,
		Collections: d.collections,
	})
}

// Restore replaces the directory state wholesale. Watchers are not replayed
// into; a replica restoring a snapshot has no live subscribers yet.
func (d *Directory) Restore(data []byte) error {
	var st snapshotState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clusterID = st.ClusterID
	d.revision = st.Revision
	d.nodes = st.Nodes
	d.groups = st.Groups
	d.databases = st.Databases
	d.collections = st.Collections
	if d.nodes == nil {
		d.nodes = make(map[uint64]*protocol.NodeDesc)
	}
	if d.groups == nil {
		d.groups = make(map[uint64]*groupEntry)
	}
	if d.databases == nil {
		d.databases = make(map[uint64]*protocol.DatabaseDesc)
	}
	if d.collections == nil {
		d.collections = make(map[uint64]*protocol.CollectionDesc)
	}
	for _, g := range d.groups {
		if g.Replicas == nil {
			g.Replicas = make(map[uint64]*replicaEntry)
		}
	}
	return nil
}
