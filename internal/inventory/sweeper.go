package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/darktidesresearch/storefront/internal/metrics"
	"github.com/darktidesresearch/storefront/internal/redisx"
)

type Expirer interface {
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically hands expired holds back to available stock. Across
// replicas a Redis lock keeps it to one sweep per tick; if Redis is down it
// sweeps anyway since the release is idempotent.
type Sweeper struct {
	store    Expirer
	cache    redisx.Cache
	interval time.Duration
	owner    string
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewSweeper(store Expirer, cache redisx.Cache, interval time.Duration, log *zap.Logger, m *metrics.Metrics) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		cache:    cache,
		interval: interval,
		owner:    uuid.NewString(),
		log:      log.Named("sweeper"),
		metrics:  m,
		now:      time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweep_failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SweepOnce returns how many reservations were released. It returns 0 when
// another replica holds the lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.cache != nil {
		ok, err := s.cache.SetNX(ctx, redisx.KeySweepLock, s.owner, s.interval)
		if err != nil {
			s.log.Warn("sweep_lock_unavailable", zap.Error(err))
		} else if !ok {
			return 0, nil
		}
	}
	n, err := s.store.ReleaseExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.Swept(n)
		s.log.Info("reservations_released", zap.Int("count", n))
	}
	return n, nil
}
