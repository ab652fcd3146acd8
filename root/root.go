// Package root implements the cluster metadata authority: node admission,
// report aggregation, replica placement, id range allocation, database and
// collection administration, and watch streams over the cluster directory.
package root

import (
	"context"

	"github.com/JackDrogon/sekas/directory"
	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/sequencer"
	"github.com/JackDrogon/sekas/watch"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sequence keys. Each key is an independent monotonic id space.
const (
	SeqTxn        = "txn"
	SeqNode       = "node"
	SeqReplica    = "replica"
	SeqDatabase   = "database"
	SeqCollection = "collection"
)

// Proposer routes mutations through the root's single logical sequence point.
// The raft coordinator implements it in production; tests use DirectProposer.
type Proposer interface {
	Propose(ctx context.Context, m *protocol.Mutation) (directory.ApplyResult, error)
}

// ClusterInfo tells the root about its own replica group: whether this
// process currently leads, and where the root replicas can be reached.
type ClusterInfo interface {
	IsLeader() bool
	LeaderAddr() string
	RootAddrs() []string
}

type Root struct {
	logger   *zap.Logger
	dir      *directory.Directory
	seq      *sequencer.Sequencer
	proposer Proposer
	cluster  ClusterInfo
	metrics  *Metrics
}

func New(dir *directory.Directory, seq *sequencer.Sequencer, proposer Proposer, cluster ClusterInfo, metrics *Metrics, logger *zap.Logger) *Root {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Root{
		logger:   logger,
		dir:      dir,
		seq:      seq,
		proposer: proposer,
		cluster:  cluster,
		metrics:  metrics,
	}
}

// Directory exposes the underlying directory for read paths (rpc, tests).
func (r *Root) Directory() *directory.Directory { return r.dir }

// Bootstrap initializes the cluster exactly once, minting its id. Safe to
// call again: an already-initialized cluster is a no-op.
func (r *Root) Bootstrap(ctx context.Context) (string, error) {
	if id := r.dir.ClusterID(); id != "" {
		return id, nil
	}
	clusterID := uuid.NewString()
	_, err := r.proposer.Propose(ctx, &protocol.Mutation{
		InitCluster: &protocol.InitClusterMutation{ClusterID: clusterID},
	})
	if err != nil {
		return "", err
	}
	// Another replica may have bootstrapped first; the directory holds truth.
	id := r.dir.ClusterID()
	r.logger.Info("cluster bootstrapped", zap.String("cluster_id", id))
	return id, nil
}

// Watch opens a subscriber stream resuming from the given per-group epoch
// cursor. The first batch is the catch-up; later batches follow commit order.
func (r *Root) Watch(cursor map[uint64]uint64) *watch.Watcher {
	return r.dir.Watch(cursor)
}

// AllocTxnID reserves numRequired transaction ids and returns the base of the
// range [base, base+numRequired).
func (r *Root) AllocTxnID(ctx context.Context, numRequired uint64) (uint64, error) {
	if numRequired == 0 {
		return 0, errs.ErrMissingField("num_required")
	}
	base, err := r.seq.AllocRange(SeqTxn, numRequired)
	if err != nil {
		return 0, err
	}
	r.metrics.TxnIDAllocated.Add(float64(numRequired))
	return base, nil
}

func (r *Root) rootDesc() protocol.RootDesc {
	return protocol.RootDesc{Addrs: r.cluster.RootAddrs()}
}
