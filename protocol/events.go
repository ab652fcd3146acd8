package protocol

// UpdateEvent carries the new full value of one changed entity. Exactly one
// field is set; watchers match exhaustively on which.
type UpdateEvent struct {
	Node          *NodeDesc       `json:"node,omitempty"`
	Group         *GroupDesc      `json:"group,omitempty"`
	ReplicaState  *ReplicaState   `json:"replica_state,omitempty"`
	ScheduleState *ScheduleState  `json:"schedule_state,omitempty"`
	Database      *DatabaseDesc   `json:"database,omitempty"`
	Collection    *CollectionDesc `json:"collection,omitempty"`
}

// Which returns whichever event field is set.
func (e *UpdateEvent) Which() interface{} {
	switch {
	case e.Node != nil:
		return e.Node
	case e.Group != nil:
		return e.Group
	case e.ReplicaState != nil:
		return e.ReplicaState
	case e.ScheduleState != nil:
		return e.ScheduleState
	case e.Database != nil:
		return e.Database
	case e.Collection != nil:
		return e.Collection
	default:
		return nil
	}
}

// DeleteEvent names a removed entity by kind and id.
type DeleteEvent struct {
	Kind EntityKind `json:"kind"`
	ID   uint64     `json:"id"`
}
