package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/assets"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/build"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/config"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/ledger"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/orchestrator"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/plan"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/revalidation"
)

func names(cfg config.Config) resource.Names {
	return resource.NewNames(cfg.Name, cfg.Bucket, cfg.Region, cfg.AccountID)
}

func options(cfg config.Config) orchestrator.Options {
	return orchestrator.Options{
		Names:        names(cfg),
		SourcePath:   cfg.SourcePath,
		BuildCommand: cfg.BuildCommand,
		Environment:  cfg.Environment,
	}
}

func openStore(ctx context.Context, cfg config.Config) (assets.ObjectStore, error) {
	return assets.NewS3Store(ctx, assets.S3Config{
		Bucket:   names(cfg).Bucket,
		Region:   cfg.Region,
		Endpoint: cfg.S3Endpoint,
	})
}

func openSubmitter(cfg config.Config) (plan.Submitter, error) {
	if cfg.ReconcilerURL == "" {
		return plan.NewFileSubmitter(cfg.PlanDir), nil
	}
	return plan.NewHTTPSubmitter(plan.HTTPSubmitterConfig{
		Endpoint:    cfg.ReconcilerURL,
		TokenSecret: cfg.ReconcilerTokenSecret,
	})
}

// openLedger returns a Postgres ledger when DATABASE_URL is set and an
// in-memory one otherwise. The returned func releases the connection.
func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, func(), error) {
	if cfg.DatabaseURL == "" {
		return ledger.NewMemoryLedger(), func() {}, nil
	}
	db, err := ledger.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := ledger.NewPGLedger(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return pg, func() { db.Close() }, nil
}

func newOrchestrator(cfg config.Config, store assets.ObjectStore, sub plan.Submitter, lg ledger.Ledger, logger hclog.Logger) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Config{
		Store:     store,
		Submitter: sub,
		Ledger:    lg,
		Builder:   build.NewRunner(build.Config{OutputDir: cfg.OutputDir, Logger: logger}),
		Sync: assets.Options{
			Concurrency:   cfg.SyncConcurrency,
			RatePerSecond: cfg.SyncRatePerSecond,
			Prune:         cfg.SyncPrune,
		},
		Logger: logger,
	})
}

func openQueue(cfg config.Config, logger hclog.Logger) (revalidation.Queue, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("no KAFKA_BROKERS configured, using an in-process queue")
		return revalidation.NewMemoryQueue(revalidation.MemoryQueueConfig{
			DedupWindow: revalidation.DefaultDedupWindow,
		}), nil
	}
	q, err := revalidation.NewKafkaQueue(revalidation.KafkaConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.RevalidationTopic,
		GroupID:      cfg.RevalidationGroup,
		WriteTimeout: 10 * time.Second,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka queue: %w", err)
	}
	return q, nil
}
