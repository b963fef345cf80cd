package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/daz23456/workflow-sub005/engine/anomaly"
	"github.com/daz23456/workflow-sub005/engine/discovery"
	"github.com/daz23456/workflow-sub005/engine/execution"
	"github.com/daz23456/workflow-sub005/engine/gateway"
	"github.com/daz23456/workflow-sub005/engine/infra/postgres"
	"github.com/daz23456/workflow-sub005/engine/infra/server"
	"github.com/daz23456/workflow-sub005/engine/labels"
	"github.com/daz23456/workflow-sub005/engine/resource"
	"github.com/daz23456/workflow-sub005/engine/schedule"
	"github.com/daz23456/workflow-sub005/engine/streaming"
	"github.com/daz23456/workflow-sub005/engine/version"
	"github.com/daz23456/workflow-sub005/pkg/config"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

func serveCmd() *cobra.Command {
	var resourceDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logger.SetupFromFlags(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.ContextWithLogger(ctx, log)
			return serve(ctx, cfg, resourceDir)
		},
	}
	cmd.Flags().StringVar(&resourceDir, "resources", "", "directory of workflow and task YAML resources")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, resourceDir string) error {
	log := logger.FromContext(ctx)

	client := resource.NewStaticClient()
	if resourceDir != "" {
		if err := loadResources(client, resourceDir); err != nil {
			return err
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	disc := discovery.NewService(client, &discovery.Options{
		TTL:           cfg.Discovery.CacheTTL,
		RetryAttempts: cfg.Discovery.RetryAttempts,
		Metrics:       discovery.NewMetrics(promReg),
	})
	registry := gateway.NewRegistry()
	disc.Subscribe(registry.Listener(disc))

	var (
		execRepo     execution.Repository
		versionSvc   *version.Service
		labelSvc     *labels.Service
		baselineRepo anomaly.BaselineRepository
	)
	if cfg.Database.ConnString != "" {
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, cfg.Database.ConnString); err != nil {
				return err
			}
		}
		db, err := postgres.NewDB(ctx, &postgres.Config{ConnString: cfg.Database.ConnString})
		if err != nil {
			return err
		}
		defer db.Close(ctx)
		execRepo = postgres.NewExecutionRepo(db)
		versionSvc = version.NewService(postgres.NewVersionRepo(db))
		labelSvc = labels.NewService(disc, postgres.NewLabelRepo(db))
		baselineRepo = postgres.NewBaselineRepo(db)
	} else {
		log.Warn("no database configured, execution history disabled")
	}

	var forwarder streaming.Forwarder
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		forwarder = streaming.NewRedisForwarder(rdb, "")
	}
	hub := streaming.NewHub(forwarder)

	baselines := anomaly.NewStore()
	var observer execution.Observer
	if cfg.Anomaly.Enabled {
		observer = anomaly.NewDetector(baselines, hub, &anomaly.Thresholds{
			Low:      cfg.Anomaly.ThresholdLow,
			Medium:   cfg.Anomaly.ThresholdMedium,
			High:     cfg.Anomaly.ThresholdHigh,
			Critical: cfg.Anomaly.ThresholdCritical,
		})
	}

	executor := execution.NewHTTPStepExecutor(2)
	orchestrator := execution.NewDAGOrchestrator(executor, cfg.Execution.MaxConcurrency)
	execSvc := execution.NewService(disc, orchestrator, execRepo, hub, observer, &execution.Options{
		Timeout:            cfg.Execution.Timeout,
		OutputPreviewLimit: cfg.Execution.OutputPreview,
		Metrics:            execution.NewMetrics(promReg),
	})

	dispatcher := gateway.NewDispatcher(registry, disc, execSvc)
	watcher := gateway.NewWatcher(disc, registry, versionSvc, cfg.Watcher.PollInterval)
	go watcher.Run(ctx)

	if cfg.Schedule.Enabled {
		go schedule.NewScheduler(disc, execSvc, cfg.Schedule.PollInterval).Run(ctx)
	}
	if cfg.Anomaly.Enabled && execRepo != nil {
		refresher := anomaly.NewRefresher(execRepo, baselines, baselineRepo, &anomaly.RefresherOptions{
			Interval:   cfg.Anomaly.RefreshInterval,
			WindowDays: cfg.Anomaly.WindowDays,
			MinSamples: cfg.Anomaly.MinSamples,
		})
		go refresher.Run(ctx)
	}
	if labelSvc != nil {
		go labelSvc.Run(ctx, cfg.Watcher.PollInterval)
	}

	srv := server.New(
		server.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		server.Dependencies{
			Discovery:  disc,
			Registry:   registry,
			Dispatcher: dispatcher,
			Executions: execRepo,
			Versions:   versionSvc,
			Labels:     labelSvc,
			Hub:        hub,
			Metrics:    promReg,
		},
		log,
	)
	return srv.Run(ctx)
}

// loadResources reads every YAML file directly under dir into the static
// registry client, routing documents by their declared kind.
func loadResources(client *resource.StaticClient, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read resource directory: %w", err)
	}
	var workflows []resource.Workflow
	var tasks []resource.Task
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		switch resource.DocumentKind(string(data)) {
		case resource.KindTask:
			task, err := resource.ParseTask(string(data))
			if err != nil {
				return fmt.Errorf("parse %s: %w", entry.Name(), err)
			}
			tasks = append(tasks, *task)
		default:
			wf, err := resource.ParseWorkflow(string(data))
			if err != nil {
				return fmt.Errorf("parse %s: %w", entry.Name(), err)
			}
			workflows = append(workflows, *wf)
		}
	}
	client.SetWorkflows(workflows)
	client.SetTasks(tasks)
	return nil
}
