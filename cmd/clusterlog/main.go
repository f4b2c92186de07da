package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/witnz/clusterlog/internal/alert"
	"github.com/witnz/clusterlog/internal/clusterlog"
	"github.com/witnz/clusterlog/internal/config"
	"github.com/witnz/clusterlog/internal/consensus"
	"github.com/witnz/clusterlog/internal/logging"
	"github.com/witnz/clusterlog/internal/maintenance"
	"github.com/witnz/clusterlog/internal/task"
)

var (
	cfgFile     string
	forceReport bool
)

var rootCmd = &cobra.Command{
	Use:   "clusterlog",
	Short: "clusterlog - replicated databases with periodic cluster diagnostics",
	Long:  `A raft-replicated node that periodically logs table row counts, HA status and profiler statistics`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "clusterlog.yaml", "config file path")
	reportCmd.Flags().BoolVar(&forceReport, "force", false, "enable the cluster log channel for this run")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(putCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("clusterlog v0.1.0")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		dbs, err := openDatabases(cfg)
		if err != nil {
			return err
		}
		defer dbs.Close()

		fmt.Printf("Initialized node: %s\n", cfg.Node.ID)
		fmt.Printf("Data directory: %s\n", cfg.Node.DataDir)
		for _, s := range dbs.bolt {
			fmt.Printf("Database %s: %s\n", s.Name(), s.Path())
		}
		for _, dbCfg := range cfg.Databases {
			if dbCfg.Driver == config.DriverPostgres {
				fmt.Printf("Database %s: postgres %s:%d/%s\n", dbCfg.Name, cfg.Postgres.Host, cfg.Postgres.Port, dbCfg.Database)
			}
		}

		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node and the cluster log task",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := logging.New(cfg.LoggingConfig())
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		dbs, err := openDatabases(cfg)
		if err != nil {
			return err
		}
		defer dbs.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		alerts := alert.NewManager(cfg.Alerts.Enabled, cfg.Alerts.SlackWebhook, cfg.Node.ID)
		scheduler := task.NewScheduler(logger, alerts)

		var cluster maintenance.Cluster
		if cfg.Raft.Enabled {
			node, err := startNode(ctx, cfg, logger, dbs)
			if err != nil {
				return err
			}
			defer stopNode(node, logger, alerts)
			cluster = node

			if interval := cfg.LeadershipTransferInterval(); interval > 0 {
				if err := scheduler.Schedule(consensus.NewLeadershipRotator(node, logger), interval); err != nil {
					return fmt.Errorf("failed to schedule leadership transfer: %w", err)
				}
				logger.Info("leadership rotation enabled", "interval", interval)
			}
		} else {
			logger.Info("running in single-node mode (no raft)")
		}

		service := maintenance.NewService(cfg.Node.ID, cluster, dbs.statsSources(), dbs.replicationSources())

		if cfg.Tasks.ClusterLog.Enabled {
			reporter := clusterlog.NewReporter(dbs.all, service, logger)
			if err := scheduler.Schedule(reporter, cfg.ClusterLogInterval()); err != nil {
				return fmt.Errorf("failed to schedule cluster log: %w", err)
			}
			logger.Info("cluster log enabled", "interval", cfg.ClusterLogInterval())
		}

		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		logger.Info("node is running", "node", cfg.Node.ID)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down")
		cancel()
		scheduler.Stop()

		logger.Info("node stopped")
		return nil
	},
}

func startNode(ctx context.Context, cfg *config.Config, logger *slog.Logger, dbs *databases) (*consensus.Node, error) {
	node, err := consensus.NewNode(&consensus.NodeConfig{
		NodeID:    cfg.Node.ID,
		BindAddr:  cfg.Node.BindAddr,
		DataDir:   cfg.Node.DataDir,
		Bootstrap: cfg.Node.Bootstrap,
		PeerAddrs: cfg.Node.PeerAddrs,
		LogStore:  cfg.Raft.LogStore,
	}, logger, dbs.bolt...)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft node: %w", err)
	}

	if err := node.Start(ctx); err != nil {
		if stopErr := node.Stop(); stopErr != nil {
			logger.Warn("failed to release raft node", "error", stopErr)
		}
		return nil, fmt.Errorf("failed to start raft node: %w", err)
	}

	logger.Info("raft node started", "state", node.State(), "leader", node.Leader())
	return node, nil
}

type systemAlerter interface {
	SendSystemAlert(title, message, severity string) error
}

func stopNode(node interface{ Stop() error }, logger *slog.Logger, alerts systemAlerter) {
	if err := node.Stop(); err != nil {
		logger.Error("failed to stop raft node", "error", err)
		if alertErr := alerts.SendSystemAlert("Raft shutdown failed", err.Error(), "danger"); alertErr != nil {
			logger.Warn("failed to send system alert", "error", alertErr)
		}
	}
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Log cluster information once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logCfg := cfg.LoggingConfig()
		if forceReport {
			channels := make(map[string]string, len(logCfg.Channels)+1)
			for name, lvl := range logCfg.Channels {
				channels[name] = lvl
			}
			channels[config.ClusterChannel] = "info"
			logCfg.Channels = channels
		}

		logger, err := logging.New(logCfg)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		dbs, err := openDatabases(cfg)
		if err != nil {
			return err
		}
		defer dbs.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		service := maintenance.NewService(cfg.Node.ID, nil, dbs.statsSources(), dbs.replicationSources())
		reporter := clusterlog.NewReporter(dbs.all, service, logger)

		scheduler := task.NewScheduler(logger, nil)
		if err := scheduler.Schedule(reporter, cfg.ClusterLogInterval()); err != nil {
			return err
		}
		return scheduler.RunNow(ctx, reporter.Name())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print table row counts of every database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		dbs, err := openDatabases(cfg)
		if err != nil {
			return err
		}
		defer dbs.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		fmt.Printf("Node ID: %s\n", cfg.Node.ID)
		fmt.Printf("Data Directory: %s\n", cfg.Node.DataDir)

		for _, db := range dbs.all {
			tables, err := db.Tables(ctx)
			if err != nil {
				fmt.Printf("%s: %v\n", db.Name(), err)
				continue
			}
			fmt.Print(clusterlog.FormatTable(db.Name(), tables))
		}

		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <database> <table> <key> <value>",
	Short: "Write a row into a local bolt database (node must be stopped)",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		dbs, err := openDatabases(cfg)
		if err != nil {
			return err
		}
		defer dbs.Close()

		store, err := dbs.store(args[0])
		if err != nil {
			return err
		}

		if err := store.Put(args[1], args[2], []byte(args[3])); err != nil {
			return fmt.Errorf("failed to put row: %w", err)
		}

		fmt.Printf("Wrote %s/%s/%s\n", args[0], args[1], args[2])
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
