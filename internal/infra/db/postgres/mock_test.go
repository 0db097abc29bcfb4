//go:build !integration

package postgres

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"payportal/internal/domain/model"
	"payportal/internal/domain/ports/repository"
	red "payportal/internal/infra/redis"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// --- Mocks for Cache Decorator Tests ---

// mockInnerLinkRepo mocks the database repository that the link decorator wraps.
type mockInnerLinkRepo struct {
	SaveFunc           func(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error
	UpdateFunc         func(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error
	FindByIDFunc       func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentLink, error)
	DeleteFunc         func(ctx context.Context, tx repository.Tx, id string) error
	ListFunc           func(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.PaymentLink, error)
	IncrementUsageFunc func(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PaymentLink, error)
}

func (m *mockInnerLinkRepo) Save(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error {
	return m.SaveFunc(ctx, tx, l)
}
func (m *mockInnerLinkRepo) Update(ctx context.Context, tx repository.Tx, l *model.PaymentLink) error {
	return m.UpdateFunc(ctx, tx, l)
}
func (m *mockInnerLinkRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentLink, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerLinkRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	return m.DeleteFunc(ctx, tx, id)
}
func (m *mockInnerLinkRepo) List(ctx context.Context, tx repository.Tx, limit, offset int) ([]*model.PaymentLink, error) {
	return m.ListFunc(ctx, tx, limit, offset)
}
func (m *mockInnerLinkRepo) IncrementUsage(ctx context.Context, tx repository.Tx, id string, now time.Time) (*model.PaymentLink, error) {
	return m.IncrementUsageFunc(ctx, tx, id, now)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", red.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error                      { return nil }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 0, nil }
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Close() error { return nil }
