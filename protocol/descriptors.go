package protocol

// EntityKind identifies a directory entity class, used by list requests and
// delete events.
type EntityKind int32

const (
	KindNode EntityKind = iota + 1
	KindGroup
	KindReplicaState
	KindScheduleState
	KindDatabase
	KindCollection
)

func (k EntityKind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindGroup:
		return "group"
	case KindReplicaState:
		return "replica_state"
	case KindScheduleState:
		return "schedule_state"
	case KindDatabase:
		return "database"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// ReplicaRole is the membership role of a replica inside its group.
type ReplicaRole int32

const (
	RoleVoter   ReplicaRole = 1
	RoleLearner ReplicaRole = 2
)

// RaftRole is the volatile consensus role a replica reports for itself.
type RaftRole int32

const (
	RaftFollower  RaftRole = 0
	RaftCandidate RaftRole = 1
	RaftLeader    RaftRole = 2
)

// NodeCapacity describes how loaded a storage node is. Reported at join and
// refreshed by the node's own reports.
type NodeCapacity struct {
	CPUNums      float64 `json:"cpu_nums"`
	ReplicaCount uint64  `json:"replica_count"`
	LeaderCount  uint64  `json:"leader_count"`
}

// NodeDesc is a storage node admitted into the cluster. The id is assigned at
// join and never reused.
type NodeDesc struct {
	ID       uint64       `json:"id"`
	Addr     string       `json:"addr"`
	Capacity NodeCapacity `json:"capacity"`
}

// ReplicaDesc is one member of a group, hosted on one node. Identity is
// immutable once created; placement changes arrive as a new group epoch.
type ReplicaDesc struct {
	ID     uint64      `json:"id"`
	NodeID uint64      `json:"node_id"`
	Role   ReplicaRole `json:"role"`
}

// GroupDesc is the authoritative membership description of a data group.
// Epoch is non-decreasing; a report carrying epoch <= the stored epoch is
// stale and rejected (equal epoch with identical content is an idempotent
// no-op).
type GroupDesc struct {
	ID       uint64        `json:"id"`
	Epoch    uint64        `json:"epoch"`
	Replicas []ReplicaDesc `json:"replicas"`
}

// ReplicaState is volatile per-replica consensus state, reported by the
// replica itself. Last writer wins, gated by term monotonicity; independent
// of GroupDesc.
type ReplicaState struct {
	GroupID   uint64   `json:"group_id"`
	ReplicaID uint64   `json:"replica_id"`
	Term      uint64   `json:"term"`
	Role      RaftRole `json:"role"`
	Applied   uint64   `json:"applied"`
}

// ScheduleState is group-level rebalance/migration progress, reported by the
// group leader for the current epoch. Independent of GroupDesc and
// ReplicaState.
type ScheduleState struct {
	GroupID          uint64   `json:"group_id"`
	Epoch            uint64   `json:"epoch"`
	LeaderID         uint64   `json:"leader_id"`
	IncomingReplicas []uint64 `json:"incoming_replicas,omitempty"`
	OutgoingReplicas []uint64 `json:"outgoing_replicas,omitempty"`
}

// DatabaseDesc is a named logical database.
type DatabaseDesc struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// CollectionDesc is a named collection inside a database.
type CollectionDesc struct {
	ID       uint64 `json:"id"`
	Database uint64 `json:"database"`
	Name     string `json:"name"`
}

// RootDesc tells a joining node where the root replicas live so it can
// discover current root leadership.
type RootDesc struct {
	Addrs []string `json:"addrs"`
}
