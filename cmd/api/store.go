package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jonathandeng7/ART/internal/config"
	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
	"github.com/jonathandeng7/ART/internal/infra/db/memory"
	mongostore "github.com/jonathandeng7/ART/internal/infra/db/mongo"
	mysqlp "github.com/jonathandeng7/ART/internal/infra/db/mysql"
	"github.com/jonathandeng7/ART/internal/infra/db/postgres"
	minioStore "github.com/jonathandeng7/ART/internal/infra/storage"
)

// openStore connects the configured driver. The returned close func releases the handle.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (domain.Repository, func(context.Context) error, error) {
	log = log.WithField("driver", cfg.Store.Driver)

	switch cfg.Store.Driver {
	case config.DriverMongo:
		cli, err := mongostore.Connect(mongostore.Options{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			Collection:     cfg.Mongo.Collection,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		repo := mongostore.NewRecordRepository(cli, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err := mongostore.EnsureIndexes(ctx, repo.Collection()); err != nil {
			// store boleh belum siap saat start, request berikutnya akan dapat 500
			log.WithError(err).Warn("could not ensure mongo indexes")
		}
		log.WithField("database", cfg.Mongo.Database).Info("mongo client ready")
		return repo, repo.Close, nil

	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("postgres connected")
		return postgres.NewAnalysisRepository(db), func(context.Context) error { return db.Close() }, nil

	case config.DriverMySQL:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		if err := mysqlp.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("mysql connected")
		return mysqlp.NewAnalysisRepository(db), func(context.Context) error { return db.Close() }, nil

	case config.DriverMemory:
		log.Warn("using in-memory store, records are lost on restart")
		return memory.NewRecordRepository(), func(context.Context) error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// openArchive returns nil when minio is disabled
func openArchive(ctx context.Context, cfg *config.Config) (*minioStore.Store, error) {
	if !cfg.Minio.Enabled {
		return nil, nil
	}
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	return store, nil
}
