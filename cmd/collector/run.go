package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/xroad-catalogue/collector/internal/collector"
	"github.com/xroad-catalogue/collector/internal/config"
	"github.com/xroad-catalogue/collector/internal/logger"
	"github.com/xroad-catalogue/collector/internal/metrics"
	"github.com/xroad-catalogue/collector/internal/normalize"
	"github.com/xroad-catalogue/collector/internal/storage"
	"github.com/xroad-catalogue/collector/internal/storage/fsstore"
	"github.com/xroad-catalogue/collector/internal/storage/miniostore"
	"github.com/xroad-catalogue/collector/internal/xroad"
)

// runCollection wires one collection run from a configuration file: protocol
// client, normalizer, storage backend, engine, persist. Per-subsystem
// failures stay inside the snapshot; only configuration, directory and
// storage failures surface as a non-zero exit.
func runCollection(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ParseConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{
		Level:         cfg.Logging.Level,
		HumanReadable: cfg.Logging.HumanReadable,
	})
	if err != nil {
		return fmt.Errorf("cannot configure logging: %w", err)
	}
	log.WithFields(map[string]any{"config": configPath}).Info("configuration loaded")

	normalizer, err := normalize.Compile(cfg.ReplacePairs())
	if err != nil {
		return err
	}

	client, err := xroad.NewClient(xroad.Options{
		ServerURL:      cfg.ServerURL,
		Identity:       cfg.ClientID(),
		Timeout:        cfg.TimeoutDuration(),
		CACertFile:     cfg.ServerCert,
		ClientCertFile: cfg.ClientCert,
		ClientKeyFile:  cfg.ClientKey,
	})
	if err != nil {
		return err
	}

	backend, err := newBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	collected := metrics.New()
	engine, err := collector.New(collector.Options{
		Client:     client,
		Logger:     log,
		Metrics:    collected,
		Normalizer: normalizer,
		Instance:   cfg.Instance,
		Workers:    cfg.ThreadCount,
		Exclusions: buildExclusions(cfg),
	})
	if err != nil {
		return err
	}

	snapshot, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	if snapshot.AllFailed() {
		return fmt.Errorf("all subsystems failed, skipping this catalogue version")
	}

	if err := backend.Persist(ctx, snapshot); err != nil {
		return err
	}

	log.WithFields(map[string]any{
		"subsystems": len(snapshot.Subsystems),
		"queries":    collected.QueryCounts(),
	}).Info("collection run finished")

	return nil
}

func newBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.Backend, error) {
	retention := storage.Retention{
		FilteredHours:   cfg.Storage.FilteredHours,
		FilteredDays:    cfg.Storage.FilteredDays,
		FilteredMonths:  cfg.Storage.FilteredMonths,
		DaysToKeep:      cfg.Storage.DaysToKeep,
		CleanupInterval: cfg.Storage.CleanupInterval,
	}

	switch {
	case cfg.Storage.FS != nil:
		return fsstore.New(cfg.Storage.FS.OutputPath, retention, log)
	case cfg.Storage.MinIO != nil:
		return miniostore.New(ctx, miniostore.Config{
			Endpoint:  cfg.Storage.MinIO.URL,
			AccessKey: cfg.Storage.MinIO.AccessKey,
			SecretKey: cfg.Storage.MinIO.SecretKey,
			Bucket:    cfg.Storage.MinIO.Bucket,
			Path:      cfg.Storage.MinIO.Path,
			Secure:    cfg.Storage.MinIO.Secure,
		}, retention, log)
	default:
		return nil, fmt.Errorf("storage backend is not configured")
	}
}

func buildExclusions(cfg *config.Config) collector.Exclusions {
	var exclusions collector.Exclusions
	for _, entry := range cfg.ExcludedMembers {
		parts := xroad.IdentifierParts(entry.ID)
		exclusions.Members = append(exclusions.Members, collector.ExcludedMember{
			ID: xroad.MemberID{
				Instance:    parts[0],
				MemberClass: parts[1],
				MemberCode:  parts[2],
			},
			Tag: entry.Tag,
		})
	}
	for _, entry := range cfg.ExcludedSubsystems {
		parts := xroad.IdentifierParts(entry.ID)
		exclusions.Subsystems = append(exclusions.Subsystems, collector.ExcludedSubsystem{
			ID: xroad.SubsystemID{
				MemberID: xroad.MemberID{
					Instance:    parts[0],
					MemberClass: parts[1],
					MemberCode:  parts[2],
				},
				SubsystemCode: parts[3],
			},
			Tag: entry.Tag,
		})
	}
	return exclusions
}
