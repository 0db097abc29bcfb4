package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
	"payportal/internal/infra/metrics"
	red "payportal/internal/infra/redis"
)

var _ repository.PaymentLinkRepository = (*linkRepoCacheDecorator)(nil)

// linkRepoCacheDecorator serves link reads from Redis. Reads inside a
// transaction always go to the store; every write invalidates first.
type linkRepoCacheDecorator struct {
	inner repository.PaymentLinkRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewLinkRepoCacheDecorator(inner repository.PaymentLinkRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.PaymentLinkRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	lg := logger.With().Str("component", "LinkCache").Logger()
	return &linkRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &lg}
}

func linkCacheKey(id string) string { return "payportal:link:" + id }

func (d *linkRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentLink, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := linkCacheKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var link model.PaymentLink
		if json.Unmarshal([]byte(val), &link) == nil {
			metrics.IncCacheRequest("link", "hit")
			return &link, nil
		}
	} else if !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Str("link_id", id).Msg("cache read failed")
	}

	metrics.IncCacheRequest("link", "miss")
	link, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(link); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("link_id", id).Msg("cache write failed")
		}
	}
	return link, nil
}

func (d *linkRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	if err := d.cache.Del(ctx, linkCacheKey(id)); err != nil {
		d.log.Warn().Err(err).Str("link_id", id).Msg("cache invalidation failed")
	}
}

// Writes invalidate before and after the inner call so a read racing the
// write cannot leave the old record cached.
func (d *linkRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error {
	d.invalidate(ctx, l.ID)
	err := d.inner.Save(ctx, tx, l)
	d.invalidate(ctx, l.ID)
	return err
}

func (d *linkRepoCacheDecorator) Update(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error {
	d.invalidate(ctx, l.ID)
	err := d.inner.Update(ctx, tx, l)
	d.invalidate(ctx, l.ID)
	return err
}

func (d *linkRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	d.invalidate(ctx, id)
	err := d.inner.Delete(ctx, tx, id)
	d.invalidate(ctx, id)
	return err
}

// IncrementUsage changes usedCount, which the usage gate reads.
func (d *linkRepoCacheDecorator) IncrementUsage(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PaymentLink, error) {
	l, err := d.inner.IncrementUsage(ctx, tx, id, now)
	d.invalidate(ctx, id)
	return l, err
}

func (d *linkRepoCacheDecorator) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.PaymentLink, error) {
	return d.inner.List(ctx, tx, limit, offset)
}
