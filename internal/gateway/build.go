// ABOUTME: Builds a Gateway and its backends from a validated configuration
// ABOUTME: SQLite always holds the audit trail; Redis takes over counters when configured

package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/invite"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
	"github.com/benedictkwok/cover-letter-assistant/internal/quota"
	"github.com/benedictkwok/cover-letter-assistant/internal/ratelimit"
	"github.com/benedictkwok/cover-letter-assistant/internal/redisstore"
	"github.com/benedictkwok/cover-letter-assistant/internal/session"
	"github.com/benedictkwok/cover-letter-assistant/internal/store"
)

// Runtime is a Gateway together with the backends it was built on.
type Runtime struct {
	*Gateway
	Store *store.SQLiteStore
	Audit *audit.Logger
}

// initStore opens the SQLite database named in the config.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initAuditSink returns the SQLite sink, mirrored to a JSON-lines file when
// audit.log_path is set.
func initAuditSink(cfg *config.Config, db *store.SQLiteStore) (audit.Sink, func() error, error) {
	if cfg.Audit.LogPath == "" {
		return db, func() error { return nil }, nil
	}
	fs, err := audit.NewFileSink(cfg.Audit.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening audit log: %w", err)
	}
	return audit.MultiSink{db, fs}, fs.Close, nil
}

// Open builds every component described by cfg and loads the invitation
// list. The caller owns the result and must Close it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{}
	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](ctx)
			}
		}
	}()

	db, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error { return db.Close() })
	rt.Store = db

	var (
		buckets ratelimit.BucketStore = db
		counter quota.Counter         = db
	)
	if cfg.Redis.URL != "" {
		client, err := redisstore.NewClient(ctx, cfg.Redis.URL, logger)
		if err != nil {
			return nil, &store.PersistenceError{Op: "connect redis", Err: err}
		}
		rs := redisstore.New(client)
		closers = append(closers, func(context.Context) error { return rs.Close() })
		buckets, counter = rs, rs
	}

	sink, closeSink, err := initAuditSink(cfg, db)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error { return closeSink() })

	auditLog := audit.NewLogger(sink,
		audit.WithBufferSize(cfg.Audit.BufferSize),
		audit.WithFallback(logger),
		audit.WithMetrics(m),
	)
	closers = append(closers, auditLog.Close)
	rt.Audit = auditLog

	registry := invite.NewRegistry(nil)
	src := invite.SourceFromConfig(cfg.Invitations)

	limiter, err := ratelimit.New(buckets, ratelimit.RulesFromConfig(cfg.RateLimits),
		ratelimit.WithRecorder(auditLog),
		ratelimit.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	tracker, err := quota.NewTracker(counter, cfg.Quota.DailyLimit,
		quota.WithLocation(cfg.Quota.Location),
		quota.WithRecorder(auditLog),
		quota.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager([]byte(cfg.Auth.SessionSecret), registry,
		session.WithLifetime(cfg.Auth.SessionLifetime),
		session.WithRecorder(auditLog),
		session.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	closers = append(closers, func(context.Context) error { sessions.Close(); return nil })

	gw, err := New(Components{
		Registry: registry,
		Sessions: sessions,
		Limiter:  limiter,
		Quota:    tracker,
		Recorder: auditLog,
		Metrics:  m,
		Logger:   logger,
		Source:   src,
	})
	if err != nil {
		return nil, err
	}

	if err := gw.Reload(ctx); err != nil {
		return nil, err
	}

	gw.closers = closers
	rt.Gateway = gw
	logger.Info("gateway ready",
		"invitees", registry.Len(),
		"daily_limit", tracker.Limit(),
		"redis", cfg.Redis.URL != "",
	)
	return rt, nil
}
