package protocol

// MessageType tags every frame on the wire (2-byte big-endian in the frame
// header). Values are part of the wire contract; never renumber.
type MessageType uint16

const (
	MsgJoin             MessageType = 1
	MsgJoinResp         MessageType = 2
	MsgWatch            MessageType = 3
	MsgWatchEvent       MessageType = 4
	MsgReport           MessageType = 5
	MsgReportResp       MessageType = 6
	MsgAllocReplica     MessageType = 7
	MsgAllocReplicaResp MessageType = 8
	MsgAllocTxnID       MessageType = 9
	MsgAllocTxnIDResp   MessageType = 10
	MsgAdmin            MessageType = 11
	MsgAdminResp        MessageType = 12
	MsgRPCError         MessageType = 13
)

// RPC error codes carried in RPCErrorResponse.
const (
	CodeUnknown int32 = iota
	CodeNotBootstrapped
	CodeNotRootLeader
	CodeNotLeader
	CodeStaleEpoch
	CodeStaleTerm
	CodeResourceExhausted
	CodeInvalidArgument
	CodeNotFound
	CodeAlreadyExists
	CodeWatcherDropped
)

// RPCErrorResponse is sent instead of the normal response frame when a call
// fails. LeaderHint is set for CodeNotRootLeader so clients can redial.
type RPCErrorResponse struct {
	Code       int32  `json:"code"`
	Message    string `json:"message"`
	LeaderHint string `json:"leader_hint,omitempty"`
}

func (e *RPCErrorResponse) Error() string { return e.Message }

// Join admits a storage node into a bootstrapped cluster. Retried joins with
// the same address return the same node id.
type JoinRequest struct {
	Addr     string       `json:"addr"`
	Capacity NodeCapacity `json:"capacity"`
}

type JoinResponse struct {
	ClusterID string   `json:"cluster_id"`
	Node      NodeDesc `json:"node"`
	Root      RootDesc `json:"root"`
}

// Watch opens a long-lived stream. Cursor maps group id to the last epoch the
// caller observed; the first WatchResponse frame is the catch-up batch.
type WatchRequest struct {
	Cursor map[uint64]uint64 `json:"cursor"`
}

type WatchResponse struct {
	Updates []UpdateEvent `json:"updates,omitempty"`
	Deletes []DeleteEvent `json:"deletes,omitempty"`
}

// GroupUpdate carries up to three independent payloads for one group. Absent
// fields are untouched by the report.
type GroupUpdate struct {
	GroupID       uint64         `json:"group_id"`
	Desc          *GroupDesc     `json:"desc,omitempty"`
	ReplicaState  *ReplicaState  `json:"replica_state,omitempty"`
	ScheduleState *ScheduleState `json:"schedule_state,omitempty"`
}

type ReportRequest struct {
	Updates []GroupUpdate `json:"updates"`
}

// Report field names used in per-field outcomes.
const (
	FieldGroupDesc     = "group_desc"
	FieldReplicaState  = "replica_state"
	FieldScheduleState = "schedule_state"
)

// FieldOutcome is the per-field result of one GroupUpdate. Code 0 means the
// field was accepted (or was an idempotent no-op).
type FieldOutcome struct {
	GroupID uint64 `json:"group_id"`
	Field   string `json:"field"`
	Code    int32  `json:"code"`
	Message string `json:"message,omitempty"`
}

type ReportResponse struct {
	Outcomes []FieldOutcome `json:"outcomes"`
}

type AllocReplicaRequest struct {
	GroupID     uint64 `json:"group_id"`
	Epoch       uint64 `json:"epoch"`
	CurrentTerm uint64 `json:"current_term"`
	LeaderID    uint64 `json:"leader_id"`
	NumRequired uint64 `json:"num_required"`
}

type AllocReplicaResponse struct {
	Replicas []ReplicaDesc `json:"replicas"`
}

type AllocTxnIDRequest struct {
	NumRequired uint64 `json:"num_required"`
}

type AllocTxnIDResponse struct {
	BaseTxnID uint64 `json:"base_txn_id"`
	Count     uint64 `json:"count"`
}

// AdminRequest is a tagged union over database/collection CRUD. Exactly one
// field is set.
type AdminRequest struct {
	CreateDatabase   *CreateDatabaseRequest   `json:"create_database,omitempty"`
	DeleteDatabase   *DeleteDatabaseRequest   `json:"delete_database,omitempty"`
	GetDatabase      *GetDatabaseRequest      `json:"get_database,omitempty"`
	ListDatabases    *ListDatabasesRequest    `json:"list_databases,omitempty"`
	CreateCollection *CreateCollectionRequest `json:"create_collection,omitempty"`
	DeleteCollection *DeleteCollectionRequest `json:"delete_collection,omitempty"`
	GetCollection    *GetCollectionRequest    `json:"get_collection,omitempty"`
	ListCollections  *ListCollectionsRequest  `json:"list_collections,omitempty"`
}

type CreateDatabaseRequest struct {
	Name string `json:"name"`
}

type DeleteDatabaseRequest struct {
	Name string `json:"name"`
}

type GetDatabaseRequest struct {
	Name string `json:"name"`
}

type ListDatabasesRequest struct{}

type CreateCollectionRequest struct {
	Database string `json:"database"`
	Name     string `json:"name"`
}

type DeleteCollectionRequest struct {
	Database string `json:"database"`
	Name     string `json:"name"`
}

type GetCollectionRequest struct {
	Database string `json:"database"`
	Name     string `json:"name"`
}

type ListCollectionsRequest struct {
	Database string `json:"database"`
}

// AdminResponse mirrors AdminRequest: the field matching the request is set.
type AdminResponse struct {
	Database    *DatabaseDesc    `json:"database,omitempty"`
	Databases   []DatabaseDesc   `json:"databases,omitempty"`
	Collection  *CollectionDesc  `json:"collection,omitempty"`
	Collections []CollectionDesc `json:"collections,omitempty"`
	Deleted     bool             `json:"deleted,omitempty"`
}
