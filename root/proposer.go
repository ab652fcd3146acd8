package root

import (
	"context"

	"github.com/JackDrogon/sekas/directory"
	"github.com/JackDrogon/sekas/protocol"
)

// DirectProposer applies mutations straight to the directory, bypassing raft.
// Used by tests and by tooling that rebuilds a directory offline; production
// wiring goes through coordinator.Coordinator.
type DirectProposer struct {
	Dir *directory.Directory
}

var _ Proposer = (*DirectProposer)(nil)

func (p *DirectProposer) Propose(_ context.Context, m *protocol.Mutation) (directory.ApplyResult, error) {
	return p.Dir.Apply(m)
}

// StaticClusterInfo is a fixed ClusterInfo for single-process setups and tests.
type StaticClusterInfo struct {
	Leader bool
	Addrs  []string
}

var _ ClusterInfo = (*StaticClusterInfo)(nil)

func (c *StaticClusterInfo) IsLeader() bool { return c.Leader }

func (c *StaticClusterInfo) LeaderAddr() string {
	if len(c.Addrs) > 0 {
		return c.Addrs[0]
	}
	return ""
}

func (c *StaticClusterInfo) RootAddrs() []string { return c.Addrs }
