package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JackDrogon/sekas/config"
	"github.com/JackDrogon/sekas/coordinator"
	"github.com/JackDrogon/sekas/directory"
	"github.com/JackDrogon/sekas/discovery"
	"github.com/JackDrogon/sekas/root"
	"github.com/JackDrogon/sekas/rpc"
	"github.com/JackDrogon/sekas/sequencer"
	"github.com/JackDrogon/sekas/watch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const bootstrapTimeout = 30 * time.Second

// Agent wires a full root replica: directory, sequencer, raft coordinator,
// serf membership, rpc server, and the metrics endpoint.
type Agent struct {
	config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	hub        *watch.Hub
	dir        *directory.Directory
	seq        *sequencer.Sequencer
	coord      *coordinator.Coordinator
	membership *discovery.Membership
	root       *root.Root
	server     *rpc.Server
	metricsSrv *http.Server

	shutdown     bool
	shutdowns    chan struct{}
	shutdownLock sync.Mutex
}

// clusterInfo answers leadership questions by combining the raft coordinator
// (who leads) with serf membership (where that replica's rpc endpoint is).
type clusterInfo struct {
	coord      *coordinator.Coordinator
	membership *discovery.Membership
}

var _ root.ClusterInfo = (*clusterInfo)(nil)

func (c *clusterInfo) IsLeader() bool     { return c.coord.IsLeader() }
func (c *clusterInfo) LeaderAddr() string { return c.membership.RPCAddrOf(c.coord.LeaderID()) }
func (c *clusterInfo) RootAddrs() []string {
	return c.membership.RPCAddrs()
}

func NewAgent(cfg config.Config) (*Agent, error) {
	a := &Agent{
		Config:    cfg,
		logger:    zap.L().Named("sekasd"),
		shutdowns: make(chan struct{}),
	}
	if err := os.MkdirAll(cfg.RootConfig.DataDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.RaftConfig.Dir, 0o755); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	metrics := root.NewMetrics(a.registry)

	a.hub = watch.NewHub(cfg.WatchConfig.QueueDepth, zap.L().Named("watch"))
	a.hub.SetSubscriberGauge(metrics.WatchSubscribers)
	a.dir = directory.New(a.hub, zap.L().Named("directory"))

	seq, err := sequencer.Open(filepath.Join(cfg.RootConfig.DataDir, "ids.db"), cfg.SequencerConfig.Step, zap.L().Named("sequencer"))
	if err != nil {
		return nil, err
	}
	a.seq = seq

	coord, err := coordinator.New(cfg, a.dir, zap.L().Named("coordinator"))
	if err != nil {
		return nil, err
	}
	a.coord = coord

	membership, err := discovery.New(coord, cfg)
	if err != nil {
		return nil, err
	}
	a.membership = membership

	cluster := &clusterInfo{coord: coord, membership: membership}
	a.root = root.New(a.dir, a.seq, a.coord, cluster, metrics, zap.L().Named("root"))
	a.server = rpc.NewServer(a.root, cluster, zap.L().Named("rpc"))
	return a, nil
}

func (a *Agent) Start() error {
	if a.MetricsPort > 0 {
		a.metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", a.MetricsPort),
			Handler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if a.RaftConfig.Bootstrap {
		go a.bootstrapCluster()
	}

	listenAddr, err := a.Config.RPCListenAddr()
	if err != nil {
		return err
	}
	return a.server.ListenAndServe(listenAddr)
}

// bootstrapCluster initializes the cluster once this replica leads. A replica
// started with --bootstrap on existing data finds the cluster id already set
// and does nothing.
func (a *Agent) bootstrapCluster() {
	if err := a.coord.WaitForLeader(bootstrapTimeout); err != nil {
		a.logger.Error("raft leader never emerged, skipping bootstrap", zap.Error(err))
		return
	}
	if !a.coord.IsLeader() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.root.Bootstrap(ctx); err != nil {
		a.logger.Error("cluster bootstrap failed", zap.Error(err))
	}
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	if a.membership != nil {
		if err := a.membership.Leave(); err != nil {
			a.logger.Warn("serf leave failed", zap.Error(err))
		}
	}
	if a.metricsSrv != nil {
		a.metricsSrv.Close()
	}
	if a.server != nil {
		a.server.Close()
	}
	if a.coord != nil {
		if err := a.coord.Shutdown(); err != nil {
			a.logger.Warn("coordinator shutdown failed", zap.Error(err))
		}
	}
	if a.seq != nil {
		return a.seq.Close()
	}
	return nil
}
