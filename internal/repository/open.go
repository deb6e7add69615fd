package repository

import (
	"context"
	"time"

	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/nimasrn/mail-tracker/pkg/pg"
)

type OpenOptions struct {
	MongoURI      string
	MongoDatabase string
	Postgres      pg.Config
	ProbeTimeout  time.Duration
	Debug         bool
}

// Open selects the tracking backend once at startup: mongo when a URI is
// configured, postgres when a host is configured, memory otherwise. A durable
// candidate that fails its reachability probe is replaced by the memory store.
func Open(ctx context.Context, opts OpenOptions) TrackingStore {
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	switch {
	case opts.MongoURI != "":
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		store, err := NewMongoStore(probeCtx, opts.MongoURI, opts.MongoDatabase)
		if err == nil {
			logger.Info("tracking store selected", "backend", BackendMongo, "database", opts.MongoDatabase)
			return store
		}
		logger.Warn("mongo unreachable, falling back to in-memory tracking store; records will not survive a restart", "error", err)

	case opts.Postgres.Host != "":
		store, err := openPostgres(ctx, opts, timeout)
		if err == nil {
			logger.Info("tracking store selected", "backend", BackendPostgres, "host", opts.Postgres.Host, "db", opts.Postgres.Database)
			return store
		}
		logger.Warn("postgres unreachable, falling back to in-memory tracking store; records will not survive a restart", "error", err)

	default:
		logger.Warn("no durable tracking store configured, using in-memory store; records will not survive a restart")
	}

	return NewMemoryStore()
}

func openPostgres(ctx context.Context, opts OpenOptions, timeout time.Duration) (*TrackingRepository, error) {
	cfg := opts.Postgres
	cfg.ConnectTimeout = timeout
	db, err := pg.CreateReadWrite(cfg, cfg, opts.Debug)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.Ping(probeCtx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}
	return NewTrackingRepository(db), nil
}
