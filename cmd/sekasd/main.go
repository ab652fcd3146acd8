package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JackDrogon/sekas/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	var (
		cfgFile        string
		bindAddr       string
		advertiseAddr  string
		replicaID      string
		rpcPort        int
		dataDir        string
		raftAddr       string
		raftBindAddr   string
		raftDir        string
		raftBootstrap  bool
		startJoinAddrs []string
		metricsPort    int
		watchQueue     int
		sequencerStep  uint64
	)

	rootCmd := &cobra.Command{
		Use:   "sekasd",
		Short: "sekasd - the sekas cluster metadata root",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			zap.ReplaceGlobals(logger)

			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			if viper.IsSet("bind_addr") {
				bindAddr = viper.GetString("bind_addr")
			}
			if viper.IsSet("advertise_addr") {
				advertiseAddr = viper.GetString("advertise_addr")
			}
			if viper.IsSet("replica_id") {
				replicaID = viper.GetString("replica_id")
			}
			if viper.IsSet("rpc_port") {
				rpcPort = viper.GetInt("rpc_port")
			}
			if viper.IsSet("data_dir") {
				dataDir = viper.GetString("data_dir")
			}
			if viper.IsSet("raft_addr") {
				raftAddr = viper.GetString("raft_addr")
			}
			if viper.IsSet("bootstrap") {
				raftBootstrap = viper.GetBool("bootstrap")
			}
			if viper.IsSet("join") {
				startJoinAddrs = viper.GetStringSlice("join")
			}
			if viper.IsSet("metrics_port") {
				metricsPort = viper.GetInt("metrics_port")
			}

			if raftDir == "" {
				raftDir = dataDir
			}
			cfg := config.Config{
				BindAddr:      bindAddr,
				AdvertiseAddr: advertiseAddr,
				RootConfig: config.RootConfig{
					ID:      replicaID,
					RPCPort: rpcPort,
					DataDir: dataDir,
				},
				RaftConfig: config.RaftConfig{
					ID:          replicaID,
					Address:     raftAddr,
					BindAddress: raftBindAddr,
					Dir:         raftDir,
					Bootstrap:   raftBootstrap,
					LogLevel:    "INFO",
				},
				WatchConfig:     config.WatchConfig{QueueDepth: watchQueue},
				SequencerConfig: config.SequencerConfig{Step: sequencerStep},
				StartJoinAddrs:  startJoinAddrs,
				MetricsPort:     metricsPort,
			}

			agent, err := NewAgent(cfg)
			if err != nil {
				return fmt.Errorf("setup agent: %w", err)
			}

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigc
				logger.Info("signal received, shutting down")
				agent.Shutdown()
			}()

			return agent.Start()
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.Flags().StringVar(&bindAddr, "bind-addr", "127.0.0.1:9401", "serf bind address")
	rootCmd.Flags().StringVar(&advertiseAddr, "advertise-addr", "", "hostname other nodes use to reach us")
	rootCmd.Flags().StringVar(&replicaID, "replica-id", "root-1", "root replica ID")
	rootCmd.Flags().IntVar(&rpcPort, "rpc-port", 9400, "RPC listen port")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "/tmp/sekas", "data directory")
	rootCmd.Flags().StringVar(&raftAddr, "raft-addr", "127.0.0.1:9402", "raft advertise address")
	rootCmd.Flags().StringVar(&raftBindAddr, "raft-bind-addr", "", "raft listen address (defaults to raft-addr)")
	rootCmd.Flags().StringVar(&raftDir, "raft-dir", "", "raft log directory (defaults to data-dir)")
	rootCmd.Flags().BoolVar(&raftBootstrap, "bootstrap", false, "bootstrap a new cluster from this replica")
	rootCmd.Flags().StringSliceVar(&startJoinAddrs, "join", nil, "serf addresses of existing root replicas, repeatable")
	rootCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "prometheus metrics port (0 = disabled)")
	rootCmd.Flags().IntVar(&watchQueue, "watch-queue-depth", 0, "per-subscriber watch queue depth (0 = default)")
	rootCmd.Flags().Uint64Var(&sequencerStep, "sequencer-step", 0, "durable id high water step (0 = default)")

	viper.SetEnvPrefix("sekas")
	viper.AutomaticEnv()
	viper.BindPFlag("bind_addr", rootCmd.Flags().Lookup("bind-addr"))
	viper.BindPFlag("advertise_addr", rootCmd.Flags().Lookup("advertise-addr"))
	viper.BindPFlag("replica_id", rootCmd.Flags().Lookup("replica-id"))
	viper.BindPFlag("rpc_port", rootCmd.Flags().Lookup("rpc-port"))
	viper.BindPFlag("data_dir", rootCmd.Flags().Lookup("data-dir"))
	viper.BindPFlag("raft_addr", rootCmd.Flags().Lookup("raft-addr"))
	viper.BindPFlag("bootstrap", rootCmd.Flags().Lookup("bootstrap"))
	viper.BindPFlag("join", rootCmd.Flags().Lookup("join"))
	viper.BindPFlag("metrics_port", rootCmd.Flags().Lookup("metrics-port"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
