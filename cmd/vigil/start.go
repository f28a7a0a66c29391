package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cordonsec/vigil/pkg/admin"
	"github.com/cordonsec/vigil/pkg/config"
	"github.com/cordonsec/vigil/pkg/consensus"
	"github.com/cordonsec/vigil/pkg/detector"
	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/node"
	"github.com/cordonsec/vigil/pkg/recovery"
	"github.com/cordonsec/vigil/pkg/retry"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
	"github.com/cordonsec/vigil/pkg/zone"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a vigil detection node",
	Long: `Start a vigil node: bind the coordinator RPC server, join the cluster
through the configured seeds, pull zone state from active peers, and
begin the heartbeat, recovery, and validation loops.

The node serves the operator API (health, metrics, zone CRUD, detect)
on the admin address and runs until interrupted.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringP("config", "c", "", "Path to the YAML config file (or VIGIL_CONFIG)")
	startCmd.Flags().String("node-id", "", "Override the node id")
	startCmd.Flags().String("host", "", "Override the advertised host")
	startCmd.Flags().Int("port", 0, "Override the RPC port")
	startCmd.Flags().StringSlice("seed", nil, "Seed address (host:port), repeatable")
	startCmd.Flags().String("admin-addr", "", "Override the admin API listen address")
	startCmd.Flags().String("log-level", "", "Override the log level")

	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := applyStartFlags(cmd, cfg); err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
	})
	logger := log.WithComponent("main")

	if cfg.Node.ID == "" {
		cfg.Node.ID = "node-" + uuid.NewString()[:8]
		logger.Info().Str("node_id", cfg.Node.ID).Msg("Generated node id")
	}

	broker := events.NewBroker()
	broker.Start()

	retryMgr := retry.NewManager(retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		InitialDelay:  cfg.Retry.InitialDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		Timeout:       cfg.Retry.Timeout,
	}, broker)

	var tlsCfg *rpc.TLSConfig
	if cfg.TLS.Enabled {
		tlsCfg = &rpc.TLSConfig{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
			CAFile:   cfg.TLS.CAFile,
		}
	}

	nodeMgr := node.NewManager(node.Config{
		ID:                cfg.Node.ID,
		Host:              cfg.Node.Host,
		Port:              cfg.Node.Port,
		Role:              types.NodeRole(cfg.Node.Role),
		Capabilities:      cfg.Node.Capabilities,
		Seeds:             cfg.Node.Seeds,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		LivenessTimeout:   cfg.Heartbeat.LivenessTimeout,
		TLS:               tlsCfg,
	}, retryMgr, broker)

	zoneMgr := zone.NewManager(nodeMgr, broker)

	consensusMgr := consensus.NewManager(consensus.Config{
		PollInterval: cfg.Consensus.PollInterval,
		Timeout:      cfg.Consensus.Timeout,
	}, nodeMgr, broker)

	recoveryMgr := recovery.NewManager(recovery.Config{
		HealthCheckInterval: cfg.Recovery.HealthCheckInterval,
		RecoveryInterval:    cfg.Recovery.RecoveryInterval,
		MaxRecoveryAttempts: cfg.Recovery.MaxAttempts,
		ValidationInterval:  cfg.Recovery.ValidationInterval,
	}, nodeMgr, zoneMgr, retryMgr, broker)

	local := detector.NewZScoreDetector(detector.ZScoreConfig{
		SigmaThreshold: cfg.Detection.SigmaThreshold,
		MinSamples:     cfg.Detection.MinSamples,
	})
	det := detector.New(local, nodeMgr, zoneMgr, consensusMgr, nil, broker)

	nodeMgr.OnAlert(det.HandleRemoteAlert)
	nodeMgr.OnZone(zoneMgr.ApplyRemote)
	nodeMgr.ZoneSource(zoneMgr.ListZones)

	ctx := context.Background()
	if err := nodeMgr.Start(ctx); err != nil {
		return fmt.Errorf("start node manager: %w", err)
	}
	logger.Info().
		Str("node_id", cfg.Node.ID).
		Str("address", nodeMgr.Address()).
		Str("role", cfg.Node.Role).
		Msg("Node started")

	if err := zoneMgr.SyncZones(ctx); err != nil {
		logger.Warn().Err(err).Msg("Initial zone sync incomplete")
	}

	recoveryMgr.Start()

	collector := metrics.NewCollector(nodeMgr, zoneMgr)
	collector.Start()

	adminSrv := admin.NewServer(admin.Config{
		Address: cfg.Admin.Address,
		Version: Version,
	}, nodeMgr, zoneMgr, consensusMgr, recoveryMgr, det)
	if err := adminSrv.Start(); err != nil {
		nodeMgr.Stop()
		return fmt.Errorf("start admin server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := adminSrv.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Admin server shutdown")
	}
	recoveryMgr.Stop()
	collector.Stop()
	if err := nodeMgr.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Node manager shutdown")
	}
	broker.Stop()

	logger.Info().Msg("Shutdown complete")
	return nil
}

func applyStartFlags(cmd *cobra.Command, cfg *config.Config) error {
	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		cfg.Node.ID = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Node.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Node.Port = v
	}
	if v, _ := cmd.Flags().GetStringSlice("seed"); len(v) > 0 {
		cfg.Node.Seeds = v
	}
	if v, _ := cmd.Flags().GetString("admin-addr"); v != "" {
		cfg.Admin.Address = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg.Validate()
}
