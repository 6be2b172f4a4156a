package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rl1809/stock-sync/internal/adapter/notify"
	"github.com/rl1809/stock-sync/internal/adapter/storage"
	"github.com/rl1809/stock-sync/internal/config"
	"github.com/rl1809/stock-sync/internal/core/service"
	"github.com/rl1809/stock-sync/internal/port"
)

// backend is the server side of a sync: the product database and the engine
// replaying batches against it, plus the optional replay guard and notifier.
type backend struct {
	store   *storage.SQLStore
	engine  *service.ReconciliationEngine
	closers []func() error
}

func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	b.store, err = storage.OpenSQLStore(ctx, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, b.store.Close)
	if err = b.store.Migrate(ctx); err != nil {
		return nil, err
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to product database")

	var notifier port.Notifier = notify.NewLogNotifier(logger)
	if cfg.RabbitMQ.URL != "" {
		var rabbit *notify.RabbitMQNotifier
		rabbit, err = notify.NewRabbitMQNotifier(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, rabbit.Close)
		notifier = rabbit
		logger.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("connected to rabbitmq")
	}

	b.engine = service.NewReconciliationEngine(b.store, notifier, logger).
		WithNotifyTimeout(cfg.Notify.Timeout)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: 100,
		})
		b.closers = append(b.closers, rdb.Close)
		if err = rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		guard := storage.NewRedisReplayGuard(rdb, cfg.Redis.ReplayTTL).WithClaimTTL(cfg.Redis.ClaimTTL)
		b.engine.WithReplayGuard(guard).WithApplyTimeout(guard.ClaimTTL() / 2)
		logger.Info().Str("addr", cfg.Redis.Addr).Dur("claim_ttl", guard.ClaimTTL()).Msg("replay guard enabled")
	}

	return b, nil
}

// Close releases resources in reverse order of acquisition.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
