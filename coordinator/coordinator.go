package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/JackDrogon/sekas/config"
	"github.com/JackDrogon/sekas/directory"
	"github.com/JackDrogon/sekas/discovery"
	"github.com/JackDrogon/sekas/errs"
	"github.com/JackDrogon/sekas/protocol"
	"github.com/JackDrogon/sekas/root"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"
)

var (
	_ discovery.Handler = (*Coordinator)(nil)
	_ root.Proposer     = (*Coordinator)(nil)
)

const (
	SnapshotThreshold   = 10000
	SnapshotInterval    = 10
	RetainSnapshotCount = 10

	applyTimeout = 5 * time.Second
)

// Coordinator replicates the directory across root replicas: every mutation
// goes through its raft log, and membership changes of the root group itself
// arrive via the discovery Handler (Join/Leave).
type Coordinator struct {
	logger *zap.Logger
	raft   *raft.Raft
	cfg    config.Config
}

// New wires a raft node around the given directory. The directory must be the
// same instance the read paths use; committed mutations land in it through
// the FSM.
func New(cfg config.Config, dir *directory.Directory, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	raftNode, err := setupRaft(newDirectoryFSM(dir), cfg.RaftConfig)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		logger: logger,
		raft:   raftNode,
		cfg:    cfg,
	}
	c.logger.Info("coordinator started", zap.String("raft_addr", cfg.RaftConfig.Address))
	return c, nil
}

// setupRaft creates a raft node. BindAddress is the listen address (e.g. 0.0.0.0:9093); Address is what others use to reach this replica.
func setupRaft(fsm raft.FSM, cfg config.RaftConfig) (*raft.Raft, error) {
	raftBindAddr := cfg.Address
	if cfg.BindAddress != "" {
		raftBindAddr = cfg.BindAddress
	}
	raftConfig := raft.DefaultConfig()
	raftConfig.SnapshotThreshold = uint64(SnapshotThreshold)
	raftConfig.SnapshotInterval = time.Duration(SnapshotInterval) * time.Second
	raftConfig.LocalID = raft.ServerID(cfg.ID)
	raftConfig.LogLevel = cfg.LogLevel

	advertiseAddr, err := net.ResolveTCPAddr("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Raft advertise address %s: %w", cfg.Address, err)
	}
	transport, err := raft.NewTCPTransport(raftBindAddr, advertiseAddr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to make TCP transport bind %s advertise %s: %w", raftBindAddr, cfg.Address, err)
	}
	snapshots, err := raft.NewFileSnapshotStore(cfg.Dir, RetainSnapshotCount, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store at %s: %w", cfg.Dir, err)
	}
	boltDB, err := raftboltdb.NewBoltStore(filepath.Join(cfg.Dir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create bolt store: %w", err)
	}
	ra, err := raft.NewRaft(raftConfig, fsm, boltDB, boltDB, snapshots, transport)
	if err != nil {
		return nil, errs.ErrNewRaft(err)
	}
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftConfig.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		if err := ra.BootstrapCluster(configuration).Error(); err != nil {
			// Restart with existing data: cluster already bootstrapped; continue.
			if err == raft.ErrCantBootstrap {
				return ra, nil
			}
			return nil, errs.ErrBootstrapCluster(err)
		}
	}
	return ra, nil
}

// Propose replicates a mutation through the raft log and returns the
// directory's verdict. Rejections (stale epoch, stale term) come back as
// errors from the apply response; raft-level failures are wrapped separately
// so callers can tell "you lost the race" from "the log is broken".
func (c *Coordinator) Propose(ctx context.Context, m *protocol.Mutation) (directory.ApplyResult, error) {
	if c.raft.State() != raft.Leader {
		return directory.ApplyResult{}, errs.ErrNotRootLeader
	}
	data, err := json.Marshal(m)
	if err != nil {
		return directory.ApplyResult{}, err
	}
	timeout := applyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	f := c.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return directory.ApplyResult{}, errs.ErrNotRootLeader
		}
		c.logger.Error("raft apply failed", zap.Error(err), zap.Any("mutation", m.Which()))
		return directory.ApplyResult{}, errs.ErrRaftApply(err)
	}
	resp, ok := f.Response().(*fsmResponse)
	if !ok {
		return directory.ApplyResult{}, errs.ErrRaftApply(fmt.Errorf("unexpected apply response %T", f.Response()))
	}
	return resp.Result, resp.Err
}

func (c *Coordinator) Join(id, raftAddr, rpcAddr string) error {
	if !c.IsLeader() {
		return raft.ErrNotLeader
	}
	c.logger.Info("join requested", zap.String("joining_replica_id", id), zap.String("raft_addr", raftAddr), zap.String("rpc_addr", rpcAddr))
	configFuture := c.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return err
	}
	serverID := raft.ServerID(id)
	serverAddr := raft.ServerAddress(raftAddr)
	for _, srv := range configFuture.Configuration().Servers {
		if srv.ID == serverID || srv.Address == serverAddr {
			if srv.ID == serverID && srv.Address == serverAddr {
				return nil
			}
			removeFuture := c.raft.RemoveServer(serverID, 0, 0)
			if err := removeFuture.Error(); err != nil {
				return err
			}
		}
	}
	addFuture := c.raft.AddVoter(serverID, serverAddr, 0, 0)
	if err := addFuture.Error(); err != nil {
		c.logger.Error("raft add voter failed", zap.Error(err), zap.String("replica_id", id))
		return err
	}
	c.logger.Info("root replica joined", zap.String("joined_replica_id", id), zap.String("raft_addr", raftAddr))
	return nil
}

func (c *Coordinator) Leave(id string) error {
	if !c.IsLeader() {
		return raft.ErrNotLeader
	}
	c.logger.Info("leave requested", zap.String("leaving_replica_id", id))
	removeFuture := c.raft.RemoveServer(raft.ServerID(id), 0, 0)
	if err := removeFuture.Error(); err != nil {
		c.logger.Error("raft remove server failed", zap.Error(err), zap.String("replica_id", id))
		return err
	}
	c.logger.Info("root replica left", zap.String("left_replica_id", id))
	return nil
}

func (c *Coordinator) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// LeaderID returns the raft server id of the current leader, or "".
func (c *Coordinator) LeaderID() string {
	_, id := c.raft.LeaderWithID()
	return string(id)
}

// RaftServerIDs returns the current raft configuration's server ids (for
// reconciliation with serf membership).
func (c *Coordinator) RaftServerIDs() ([]string, error) {
	f := c.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.Configuration().Servers))
	for _, s := range f.Configuration().Servers {
		ids = append(ids, string(s.ID))
	}
	return ids, nil
}

func (c *Coordinator) WaitForLeader(timeout time.Duration) error {
	timeoutc := time.After(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-timeoutc:
			return fmt.Errorf("timed out waiting for raft leader")
		case <-ticker.C:
			c.logger.Info("waiting for raft leader", zap.String("leader", string(c.raft.Leader())))
			if c.raft.Leader() != "" {
				return nil
			}
		}
	}
}

func (c *Coordinator) Shutdown() error {
	c.logger.Info("coordinator shutting down")
	f := c.raft.Shutdown()
	return f.Error()
}
