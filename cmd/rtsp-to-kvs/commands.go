package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/topecongiro/rtsp-to-kvs/internal/config"
	"github.com/topecongiro/rtsp-to-kvs/internal/history"
	chsink "github.com/topecongiro/rtsp-to-kvs/internal/history/clickhouse"
	"github.com/topecongiro/rtsp-to-kvs/internal/logger"
	"github.com/topecongiro/rtsp-to-kvs/internal/metrics"
	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
	"github.com/topecongiro/rtsp-to-kvs/internal/runtime"
	"github.com/topecongiro/rtsp-to-kvs/internal/server"
	"github.com/topecongiro/rtsp-to-kvs/internal/supervisor"
)

func buildRoot() *cobra.Command {
	var global GlobalFlags

	root := &cobra.Command{
		Use:           "rtsp-to-kvs",
		Short:         "Supervised RTSP to cloud video relay",
		Long:          "rtsp-to-kvs relays an RTSP camera stream into a cloud video stream,\nsupervising the media pipeline and reconnecting with bounded backoff.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&global.ConfigPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&global.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&global.NoColor, "no-color", false, "disable colored log output")

	root.AddCommand(newRelayCmd(&global))
	root.AddCommand(newPlaybackCmd(&global))
	root.AddCommand(newCheckCmd(&global))
	return root
}

func newRelayCmd(global *GlobalFlags) *cobra.Command {
	var flags RelayFlags
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay the RTSP source into the cloud video sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*global)
			if err != nil {
				return err
			}
			flags.apply(cfg)
			return run(cmd.Context(), cfg)
		},
	}
	addRelayFlags(cmd, &flags)
	return cmd
}

func newPlaybackCmd(global *GlobalFlags) *cobra.Command {
	var flags SourceFlags
	cmd := &cobra.Command{
		Use:   "playback",
		Short: "Render the RTSP source to a local window instead of the cloud",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*global)
			if err != nil {
				return err
			}
			flags.apply(cfg)
			cfg.Sink = pipeline.SinkConfig{Kind: pipeline.SinkPlayback}
			cfg.Credentials.Mode = "none"
			cfg.HTTP.Enabled = false
			return run(cmd.Context(), cfg)
		},
	}
	addSourceFlags(cmd, &flags)
	return cmd
}

func newCheckCmd(global *GlobalFlags) *cobra.Command {
	var flags RelayFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and print the pipeline that would run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*global)
			if err != nil {
				return err
			}
			flags.apply(cfg)
			if err := cfg.Validate(); err != nil {
				return &configError{err: err}
			}
			desc, err := pipeline.Build(cfg.Source, cfg.Sink, cfg.Hint())
			if err != nil {
				return &configError{err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok\ntarget:   %s\npipeline: %s\n",
				cfg.Source.Redacted(), desc.String())
			return nil
		},
	}
	addRelayFlags(cmd, &flags)
	return cmd
}

func loadConfig(global GlobalFlags) (*config.Config, error) {
	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		return nil, &configError{err: err}
	}
	global.apply(cfg)
	return cfg, nil
}

// run wires the full relay: logger, metrics, history sinks, worker runtime,
// optional HTTP surface, and the supervisor loop bound to OS signals.
func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return &configError{err: err}
	}

	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	resolver, err := cfg.Credentials.Resolver()
	if err != nil {
		return &configError{err: err}
	}

	sinks, closeSinks, err := buildHistorySinks(cfg.History)
	if err != nil {
		return &configError{err: err}
	}
	defer closeSinks()

	workerCfg := cfg.Worker
	if workerCfg.Log.Dir == "" && workerCfg.Log.WorkerPath == "" {
		workerCfg.Log = cfg.Log
	}
	rt := runtime.NewWorkerRuntime(workerCfg, resolver, log)

	sup := supervisor.New(rt, supervisor.Config{
		Target:              cfg.Source,
		Sink:                cfg.Sink,
		Hint:                cfg.Hint(),
		Policy:              cfg.Supervisor.Policy(),
		GracefulStopTimeout: cfg.Supervisor.GracefulStopTimeout,
		TransientWindow:     cfg.Supervisor.TransientWindow,
		TransientThreshold:  cfg.Supervisor.TransientThreshold,
	}, log, sinks...)

	if cfg.HTTP.Enabled {
		srv, err := server.NewServer(cfg.HTTP.Listen, cfg.HTTP.BasePath, sup)
		if err != nil {
			return err
		}
		log.Info("http surface listening", "addr", cfg.HTTP.Listen)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}

// buildHistorySinks assembles the configured lifecycle-event exporters.
// The returned closer flushes and closes all of them.
func buildHistorySinks(cfg config.HistoryConfig) ([]history.Sink, func(), error) {
	var (
		sinks   []history.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.DSN != "" {
		s, err := history.NewSQLSinkFromDSN(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("history sql sink: %w", err)
		}
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}
	if cfg.ClickHouseAddr != "" {
		s, err := chsink.New(cfg.ClickHouseAddr, cfg.ClickHouseDatabase,
			cfg.ClickHouseUser, cfg.ClickHousePassword, cfg.Table)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("history clickhouse sink: %w", err)
		}
		sinks = append(sinks, s)
		closers = append(closers, s.Close)
	}
	return sinks, closeAll, nil
}
