package config

import (
	"fmt"
	"net"
)

type Config struct {
	BindAddr        string
	AdvertiseAddr   string // optional; hostname others use to reach us (e.g. root1). When set, Serf/Raft/RPC advertise this; bind with 0.0.0.0 in Docker.
	RootConfig      RootConfig
	RaftConfig      RaftConfig
	WatchConfig     WatchConfig
	SequencerConfig SequencerConfig
	StartJoinAddrs  []string
	MetricsPort     int
}

type RootConfig struct {
	ID      string
	RPCPort int
	DataDir string
}

type RaftConfig struct {
	ID          string
	Address     string // address others use to reach this replica's Raft (e.g. root1:9093)
	BindAddress string // optional; listen address (e.g. 0.0.0.0:9093). When empty, listen on Address.
	Dir         string
	Bootstrap   bool
	LogLevel    string
}

// WatchConfig bounds the per-subscriber queue; a subscriber that falls this
// many batches behind is dropped and must resubscribe.
type WatchConfig struct {
	QueueDepth int
}

// SequencerConfig controls how many ids each durable bump reserves.
type SequencerConfig struct {
	Step uint64
}

func (c Config) RPCAddr() (string, error) {
	if c.AdvertiseAddr != "" {
		return fmt.Sprintf("%s:%d", c.AdvertiseAddr, c.RootConfig.RPCPort), nil
	}
	host, _, err := net.SplitHostPort(c.BindAddr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", host, c.RootConfig.RPCPort), nil
}

// RPCListenAddr returns the address the RPC server should bind to. When AdvertiseAddr is set, bind 0.0.0.0 so other nodes can connect.
func (c Config) RPCListenAddr() (string, error) {
	if c.AdvertiseAddr != "" {
		return fmt.Sprintf("0.0.0.0:%d", c.RootConfig.RPCPort), nil
	}
	return c.RPCAddr()
}
