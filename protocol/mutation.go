package protocol

// Mutation is the single unit of change applied to the cluster directory.
// Exactly one of the fields should be set. Mutations flow through the raft
// log, so every root replica applies the same sequence.
type Mutation struct {
	InitCluster         *InitClusterMutation      `json:"init_cluster,omitempty"`
	PutNode             *PutNodeMutation          `json:"put_node,omitempty"`
	UpdateGroup         *UpdateGroupMutation      `json:"update_group,omitempty"`
	DeleteGroup         *DeleteGroupMutation      `json:"delete_group,omitempty"`
	UpdateReplicaState  *ReplicaStateMutation     `json:"update_replica_state,omitempty"`
	UpdateScheduleState *ScheduleStateMutation    `json:"update_schedule_state,omitempty"`
	PutDatabase         *PutDatabaseMutation      `json:"put_database,omitempty"`
	DeleteDatabase      *DeleteDatabaseMutation   `json:"delete_database,omitempty"`
	PutCollection       *PutCollectionMutation    `json:"put_collection,omitempty"`
	DeleteCollection    *DeleteCollectionMutation `json:"delete_collection,omitempty"`
}

type InitClusterMutation struct {
	ClusterID string `json:"cluster_id"`
}

type PutNodeMutation struct {
	Node NodeDesc `json:"node"`
}

type UpdateGroupMutation struct {
	Desc GroupDesc `json:"desc"`
}

type DeleteGroupMutation struct {
	GroupID uint64 `json:"group_id"`
}

type ReplicaStateMutation struct {
	State ReplicaState `json:"state"`
}

type ScheduleStateMutation struct {
	State ScheduleState `json:"state"`
}

type PutDatabaseMutation struct {
	Desc DatabaseDesc `json:"desc"`
}

type DeleteDatabaseMutation struct {
	ID uint64 `json:"id"`
}

type PutCollectionMutation struct {
	Desc CollectionDesc `json:"desc"`
}

type DeleteCollectionMutation struct {
	ID uint64 `json:"id"`
}

// Which returns whichever mutation field is set (for Apply switch).
func (m *Mutation) Which() interface{} {
	switch {
	case m.InitCluster != nil:
		return m.InitCluster
	case m.PutNode != nil:
		return m.PutNode
	case m.UpdateGroup != nil:
		return m.UpdateGroup
	case m.DeleteGroup != nil:
		return m.DeleteGroup
	case m.UpdateReplicaState != nil:
		return m.UpdateReplicaState
	case m.UpdateScheduleState != nil:
		return m.UpdateScheduleState
	case m.PutDatabase != nil:
		return m.PutDatabase
	case m.DeleteDatabase != nil:
		return m.DeleteDatabase
	case m.PutCollection != nil:
		return m.PutCollection
	case m.DeleteCollection != nil:
		return m.DeleteCollection
	default:
		return nil
	}
}
