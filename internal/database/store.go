package database

import (
	"context"
	"fmt"

	"simats-hub/internal/config"
	"simats-hub/internal/kv"

	"github.com/sirupsen/logrus"
)

// OpenStore connects to the backend selected by cfg.KVBackend.
func OpenStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (kv.Store, error) {
	switch cfg.KVBackend {
	case config.BackendMongo:
		db, err := ConnectMongo(ctx, cfg.MongoURI, cfg.DBName)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{"db": cfg.DBName, "collection": cfg.KVCollection}).Info("✅ Connected to MongoDB")
		return kv.NewMongo(db.Collection(cfg.KVCollection)), nil

	case config.BackendRedis:
		cli, err := ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("✅ Connected to Redis")
		return kv.NewRedis(cli), nil

	case config.BackendPostgres:
		db, err := ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		store := kv.NewPostgres(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close(context.Background())
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		log.Info("✅ Connected to Postgres")
		return store, nil

	case config.BackendMemory:
		log.Warn("⚠️  Using in-memory store, data is lost on restart")
		return kv.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown KV backend %q", cfg.KVBackend)
}
