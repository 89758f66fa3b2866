package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/grafana/pyroscope-go"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/spf13/afero"

	"github.com/buildsandbox/sandbox-agent/pkg/accessmanager"
	accessmanagerv1 "github.com/buildsandbox/sandbox-agent/pkg/accessmanager/v1"
	"github.com/buildsandbox/sandbox-agent/pkg/config"
	dispatcherv1 "github.com/buildsandbox/sandbox-agent/pkg/dispatcher/v1"
	"github.com/buildsandbox/sandbox-agent/pkg/eventfeed"
	"github.com/buildsandbox/sandbox-agent/pkg/exporters"
	"github.com/buildsandbox/sandbox-agent/pkg/metricsmanager"
	metricsprometheus "github.com/buildsandbox/sandbox-agent/pkg/metricsmanager/prometheus"
	pathresolverv1 "github.com/buildsandbox/sandbox-agent/pkg/pathresolver/v1"
	processtreev1 "github.com/buildsandbox/sandbox-agent/pkg/processtree/v1"
	"github.com/buildsandbox/sandbox-agent/pkg/reportchannel"
)

func main() {
	ctx := context.Background()

	configDir := "/etc/sandbox-agent"
	if envPath := os.Getenv("CONFIG_DIR"); envPath != "" {
		configDir = envPath
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		logger.L().Fatal("load config error", helpers.Error(err))
	}

	if _, present := os.LookupEnv("ENABLE_PROFILER"); present {
		logger.L().Info("starting profiler on port 6060")
		go func() {
			_ = http.ListenAndServe("localhost:6060", nil)
		}()
	}

	if cfg.EnableProfiling && cfg.PyroscopeServerAddr != "" {
		logger.L().Info("starting pyroscope profiler",
			helpers.String("server", cfg.PyroscopeServerAddr))
		if _, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "sandbox-agent",
			ServerAddress:   cfg.PyroscopeServerAddr,
			Logger:          pyroscope.StandardLogger,
			Tags:            map[string]string{"host": hostName()},
		}); err != nil {
			logger.L().Error("error starting pyroscope", helpers.Error(err))
		}
	}

	var metrics metricsmanager.MetricsManager
	if cfg.EnablePrometheusExporter {
		metrics = metricsprometheus.NewPrometheusMetric(cfg.PrometheusListenAddr)
	} else {
		metrics = metricsmanager.NewMetricsMock()
	}
	metrics.Start()
	defer metrics.Destroy()

	exporterBus := exporters.InitExporters(cfg.Exporters, hostName())

	resolver, err := pathresolverv1.NewResolver(afero.NewOsFs(), cfg.SymlinkHopLimit)
	if err != nil {
		logger.L().Fatal("error creating the path resolver", helpers.Error(err))
	}

	tree := processtreev1.NewProcessTree(cfg.NamespaceThreshold)
	feeder := processtreev1.NewProcfsFeeder(cfg.ProcfsScanInterval, tree)
	if err := feeder.Start(ctx); err != nil {
		logger.L().Fatal("error starting the procfs feeder", helpers.Error(err))
	}
	defer feeder.Stop()

	policy, err := reportchannel.ParseOverloadPolicy(cfg.OverloadPolicy)
	if err != nil {
		logger.L().Fatal("bad overload policy", helpers.Error(err))
	}
	capacity := cfg.ChannelCapacity
	if capacity == 0 {
		capacity = reportchannel.DefaultCapacity
	}
	shards := make([]*reportchannel.Channel, cfg.ChannelShards)
	for i := range shards {
		shards[i], err = reportchannel.New(capacity, policy)
		if err != nil {
			logger.L().Fatal("error creating the report channel", helpers.Error(err))
		}
	}

	accessManager := accessmanagerv1.CreateAccessManager(cfg, resolver, tree, shards, metrics)

	dispatcher, err := dispatcherv1.NewShardedDispatcher(dispatcherv1.Config{
		MaxBatchSize: cfg.MaxBatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}, shards, exporterBus, metrics)
	if err != nil {
		logger.L().Fatal("error creating the report dispatcher", helpers.Error(err))
	}
	if err := dispatcher.Start(ctx); err != nil {
		logger.L().Fatal("error starting the report dispatcher", helpers.Error(err))
	}

	feed := eventfeed.NewEventFeed(cfg.EventSocketPath, accessManager)
	if err := feed.Start(ctx); err != nil {
		logger.L().Fatal("error starting the event feed", helpers.Error(err))
	}

	logger.L().Info("sandbox agent started",
		helpers.String("eventSocket", cfg.EventSocketPath),
		helpers.Int("channelShards", cfg.ChannelShards),
		helpers.Int("channelCapacity", capacity),
		helpers.String("overloadPolicy", cfg.OverloadPolicy),
		helpers.Int("monitoredRoots", len(cfg.MonitoredRoots)))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	logger.L().Info("shutting down, draining report channel")
	feed.Stop()
	dispatcher.Stop()
	logShutdownStats(accessManager, dispatcher)
}

func hostName() string {
	if host := os.Getenv(config.HostNameEnvVar); host != "" {
		return host
	}
	host, _ := os.Hostname()
	return host
}

func logShutdownStats(am accessmanager.AccessManager, dispatcher *dispatcherv1.ShardedDispatcher) {
	var reports, hops, dropped uint64
	am.ForEachStepStats(func(_ uint64, stats accessmanager.StepStats) bool {
		reports += stats.Reports
		hops += stats.SymlinkHops
		dropped += stats.Dropped
		return true
	})
	logger.L().Info("final report statistics",
		helpers.String("reports", humanize.Comma(int64(reports))),
		helpers.String("symlinkHops", humanize.Comma(int64(hops))),
		helpers.String("dropped", humanize.Comma(int64(dropped))),
		helpers.String("abandoned", humanize.Comma(int64(dispatcher.Abandoned()))))
}
