package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/broker"
	"github.com/nightfield/signalgate/internal/emergency"
	"github.com/nightfield/signalgate/internal/executor"
	"github.com/nightfield/signalgate/internal/gate"
	"github.com/nightfield/signalgate/internal/obs"
	"github.com/nightfield/signalgate/internal/ops"
	"github.com/nightfield/signalgate/internal/pipeline"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/risk"
	"github.com/nightfield/signalgate/internal/schema"
	"github.com/nightfield/signalgate/internal/statestore"
)

func newServeCmd() *cobra.Command {
	var (
		auditDir      string
		pgHost        string
		pgPort        int
		pgUser        string
		pgPassword    string
		pgDatabase    string
		redisAddr     string
		redisPassword string
		configReload  time.Duration
		profile       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's SignalGate -> RiskSizer -> Executor pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile {
				stop := startProfiler("signalgate/gateway")
				defer stop()
			}

			fileCfg := ops.DefaultFileConfig()
			if configPath != "" {
				loaded, err := ops.Load(configPath)
				if err != nil {
					return err
				}
				fileCfg = loaded
			}
			runtime := ops.NewRuntimeConfig(fileCfg)
			stopWatch := make(chan struct{})
			if configPath != "" && configReload > 0 {
				go runtime.Watch(configPath, configReload, stopWatch)
				defer close(stopWatch)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			auditLog, err := audit.Open(ctx, audit.DefaultConfig(auditDir))
			if err != nil {
				return err
			}
			defer auditLog.Close()
			tracker := provenance.NewTracker(auditLog)

			pg, err := statestore.OpenPostgres(statestore.PostgresConfig{
				Host: pgHost, Port: pgPort, User: pgUser, Password: pgPassword, Database: pgDatabase,
			})
			if err != nil {
				return err
			}
			defer pg.Close()

			redisClient, err := statestore.NewRedisClient(statestore.RedisConfig{
				Addr:                     redisAddr,
				Password:                 redisPassword,
				SignalRateLimitPerMinute: runtime.Load().Gate.SignalRateLimitPerMinute,
			})
			if err != nil {
				return err
			}
			defer redisClient.Close()

			store := statestore.New(pg, redisClient, 60)

			metrics := obs.NewMetrics(prometheus.DefaultRegisterer)

			riskEngine, err := risk.New(toRiskConfig(runtime.Load().Risk))
			if err != nil {
				return err
			}

			emergencyCtl := emergency.New(emergency.DefaultConfig(), tracker, nil)

			g := gate.New(toGateConfig(runtime.Load().Gate), tracker, store, store, store, emergencyCtl, nil)

			clientFactory := func(profileID schema.ProfileID, credsRef string) broker.Client {
				return broker.NewMockClient()
			}
			pool := broker.New(clientFactory, tracker)
			exec := executor.New(pool, tracker, nil, runtime.Load().Risk.MaxPositions)

			pl := pipeline.New(pipeline.DefaultConfig(), g, riskEngine, exec, store, tracker, metrics)

			logs.Infof("gateway: serve started, audit dir %s", auditDir)
			<-ctx.Done()
			logs.Infof("gateway: shutting down")
			_ = pl
			return nil
		},
	}

	cmd.Flags().StringVar(&auditDir, "audit-dir", "data/audit", "audit log segment directory")
	cmd.Flags().StringVar(&pgHost, "pg-host", "localhost", "postgres host")
	cmd.Flags().IntVar(&pgPort, "pg-port", 5432, "postgres port")
	cmd.Flags().StringVar(&pgUser, "pg-user", "signalgate", "postgres user")
	cmd.Flags().StringVar(&pgPassword, "pg-password", "", "postgres password")
	cmd.Flags().StringVar(&pgDatabase, "pg-database", "signalgate", "postgres database")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "redis address")
	cmd.Flags().StringVar(&redisPassword, "redis-password", "", "redis password")
	cmd.Flags().DurationVar(&configReload, "config-reload-interval", 2*time.Second, "config reload interval (0=disable)")
	cmd.Flags().BoolVar(&profile, "profile", false, "start the pyroscope continuous profiler")
	return cmd
}

func toRiskConfig(o ops.RiskOptions) risk.Config {
	cfg := risk.DefaultConfig()
	cfg.MaxPositions = o.MaxPositions
	cfg.MaxRiskPerTradeFraction = o.MaxRiskPerTradeFraction
	cfg.MaxTotalRiskFraction = o.MaxTotalRiskFraction
	cfg.MaxCVaRFraction = o.MaxCVaRFraction
	cfg.DDReduceThreshold = o.DDReduceThreshold
	cfg.DDHaltThreshold = o.DDHaltThreshold
	cfg.KellyScale = o.KellyScale
	cfg.KellyMinConfidence = o.KellyMinConfidence
	cfg.MaxCorrelation = o.MaxCorrelation
	return cfg
}

func toGateConfig(o ops.GateOptions) gate.Config {
	cfg := gate.DefaultConfig()
	cfg.SignalRateLimitPerMinute = o.SignalRateLimitPerMinute
	cfg.GlobalSignalRateLimit = o.GlobalSignalRateLimit
	if o.SignalTimeoutS > 0 {
		cfg.SignalTimeout = time.Duration(o.SignalTimeoutS) * time.Second
	}
	return cfg
}
