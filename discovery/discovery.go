// Package discovery gossips root replica membership over serf and feeds
// join/leave events into the raft coordinator. It also answers "where are the
// root replicas reachable" for join responses and leader redirects.
package discovery

import (
	"net"
	"sync"
	"time"

	"github.com/JackDrogon/sekas/config"
	"github.com/hashicorp/raft"
	"github.com/hashicorp/serf/serf"
	"go.uber.org/zap"
)

const retryInterval = 10 * time.Second

// Handler receives membership changes. The coordinator implements it; a
// raft.ErrNotLeader return queues the event for retry once this replica
// becomes leader.
type Handler interface {
	Join(id, raftAddr, rpcAddr string) error
	Leave(name string) error
}

type Membership struct {
	config.Config
	handler Handler
	serf    *serf.Serf
	events  chan serf.Event
	logger  *zap.Logger
	// pendingJoin stores replicas we need to Join() once we become leader.
	pendingJoin map[string]struct {
		RaftAddr string
		RPCAddr  string
	}
	pendingLeave map[string]struct{}
	pendingMu    sync.Mutex
	stopCh       chan struct{}
	leaveOnce    sync.Once
}

func New(handler Handler, config config.Config) (*Membership, error) {
	m := &Membership{
		Config:       config,
		handler:      handler,
		logger:       zap.L().Named("discovery"),
		pendingJoin:  make(map[string]struct{ RaftAddr, RPCAddr string }),
		pendingLeave: make(map[string]struct{}),
		stopCh:       make(chan struct{}),
	}
	if err := m.setupSerf(); err != nil {
		return nil, err
	}
	go m.retryPendingEvents()
	return m, nil
}

func (m *Membership) setupSerf() (err error) {
	addr, err := net.ResolveTCPAddr("tcp", m.BindAddr)
	if err != nil {
		return err
	}
	config := serf.DefaultConfig()
	config.Init()
	config.MemberlistConfig.BindAddr = addr.IP.String()
	config.MemberlistConfig.BindPort = addr.Port
	m.events = make(chan serf.Event)
	config.EventCh = m.events
	rpcAddr, err := m.Config.RPCAddr()
	if err != nil {
		return err
	}
	config.Tags = map[string]string{
		"rpc_addr":  rpcAddr,
		"raft_addr": m.RaftConfig.Address,
	}
	config.NodeName = m.RootConfig.ID
	m.serf, err = serf.Create(config)
	if err != nil {
		return err
	}
	go m.eventHandler()
	if m.StartJoinAddrs != nil {
		_, err = m.serf.Join(m.StartJoinAddrs, true)
		if err != nil {
			m.logger.Error("serf join failed", zap.Error(err), zap.Strings("addrs", m.StartJoinAddrs))
		}
	}
	return nil
}

func (m *Membership) eventHandler() {
	for e := range m.events {
		switch e.EventType() {
		case serf.EventMemberJoin:
			for _, member := range e.(serf.MemberEvent).Members {
				if m.isLocal(member) {
					continue
				}
				m.handleJoin(member)
			}
		case serf.EventMemberLeave, serf.EventMemberFailed:
			for _, member := range e.(serf.MemberEvent).Members {
				if m.isLocal(member) {
					continue
				}
				m.handleLeave(member)
			}
		}
	}
}

func (m *Membership) handleJoin(member serf.Member) {
	raftAddr := member.Tags["raft_addr"]
	rpcAddr := member.Tags["rpc_addr"]
	if raftAddr == "" {
		raftAddr = rpcAddr
	}
	if rpcAddr == "" {
		rpcAddr = raftAddr
	}
	if err := m.handler.Join(member.Name, raftAddr, rpcAddr); err != nil {
		if err == raft.ErrNotLeader {
			// Leader not ready or election in progress; queue until we lead.
			m.pendingMu.Lock()
			m.pendingJoin[member.Name] = struct {
				RaftAddr string
				RPCAddr  string
			}{RaftAddr: raftAddr, RPCAddr: rpcAddr}
			m.pendingMu.Unlock()
			m.logger.Debug("join deferred (not leader), will retry", zap.String("name", member.Name), zap.String("raft_addr", raftAddr))
			return
		}
		m.logError(err, "failed to join", member)
	}
}

func (m *Membership) handleLeave(member serf.Member) {
	if err := m.handler.Leave(member.Name); err != nil {
		if err == raft.ErrNotLeader {
			m.pendingMu.Lock()
			m.pendingLeave[member.Name] = struct{}{}
			m.pendingMu.Unlock()
			m.logger.Debug("leave deferred (not leader), will retry", zap.String("name", member.Name))
			return
		}
		m.logError(err, "failed to leave", member)
	}
}

// retryPendingEvents runs periodically so the new leader eventually processes
// queued joins and leaves.
func (m *Membership) retryPendingEvents() {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			// Snapshot pending work under lock, then process without holding it.
			m.pendingMu.Lock()
			joinSnap := make(map[string]struct {
				RaftAddr string
				RPCAddr  string
			}, len(m.pendingJoin))
			for name, info := range m.pendingJoin {
				joinSnap[name] = info
			}
			leaveNames := make([]string, 0, len(m.pendingLeave))
			for name := range m.pendingLeave {
				leaveNames = append(leaveNames, name)
			}
			m.pendingMu.Unlock()

			// Joins first so the leader brings new replicas in.
			for name, info := range joinSnap {
				if err := m.handler.Join(name, info.RaftAddr, info.RPCAddr); err != nil {
					if err == raft.ErrNotLeader {
						continue
					}
					m.logger.Error("retry join failed", zap.Error(err), zap.String("name", name))
					continue
				}
				m.pendingMu.Lock()
				delete(m.pendingJoin, name)
				m.pendingMu.Unlock()
				m.logger.Info("join completed on retry", zap.String("name", name), zap.String("raft_addr", info.RaftAddr))
			}

			for _, name := range leaveNames {
				if err := m.handler.Leave(name); err != nil {
					if err == raft.ErrNotLeader {
						continue
					}
					m.logger.Error("retry leave failed", zap.Error(err), zap.String("name", name))
					continue
				}
				m.pendingMu.Lock()
				delete(m.pendingLeave, name)
				m.pendingMu.Unlock()
				m.logger.Info("leave completed on retry", zap.String("name", name))
			}
		}
	}
}

func (m *Membership) isLocal(member serf.Member) bool {
	return m.serf.LocalMember().Name == member.Name
}

func (m *Membership) Members() []serf.Member {
	return m.serf.Members()
}

// RPCAddrs lists the rpc addresses of all live members, for the RootDesc
// handed to joining storage nodes.
func (m *Membership) RPCAddrs() []string {
	members := m.serf.Members()
	addrs := make([]string, 0, len(members))
	for _, member := range members {
		if member.Status != serf.StatusAlive {
			continue
		}
		if addr := member.Tags["rpc_addr"]; addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// RPCAddrOf resolves a member name (raft server id) to its rpc address, for
// leader hints in redirects.
func (m *Membership) RPCAddrOf(name string) string {
	for _, member := range m.serf.Members() {
		if member.Name == name {
			return member.Tags["rpc_addr"]
		}
	}
	return ""
}

func (m *Membership) Leave() error {
	m.leaveOnce.Do(func() { close(m.stopCh) })
	return m.serf.Leave()
}

func (m *Membership) logError(err error, msg string, member serf.Member) {
	log := m.logger.Error
	if err == raft.ErrNotLeader {
		log = m.logger.Debug
	}
	log(
		msg,
		zap.Error(err),
		zap.String("name", member.Name),
		zap.String("rpc_addr", member.Tags["rpc_addr"]),
	)
}
