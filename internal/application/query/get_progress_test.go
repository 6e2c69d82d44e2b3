package query

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/level"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// totalsRepo - минимальный фейк reward.Repository для читающей стороны:
// значим только TotalXP, остальные методы не используются запросом.
type totalsRepo struct {
	totals map[string]int
	calls  int
}

func (r *totalsRepo) Save(_ context.Context, _ *reward.XPTransaction) (int, error) {
	return 0, nil
}

func (r *totalsRepo) GetByID(_ context.Context, _ string) (*reward.XPTransaction, error) {
	return nil, shared.ErrTransactionNotFound
}

func (r *totalsRepo) FindBySource(_ context.Context, _ string, _ shared.SourceKind, _ string) (*reward.XPTransaction, error) {
	return nil, shared.ErrTransactionNotFound
}

func (r *totalsRepo) ListByUserAndDate(_ context.Context, _ string, _ time.Time) ([]*reward.XPTransaction, error) {
	return nil, nil
}

func (r *totalsRepo) ListByUser(_ context.Context, _ string, _ int) ([]*reward.XPTransaction, error) {
	return nil, nil
}

func (r *totalsRepo) TotalXP(_ context.Context, userID string) (int, error) {
	r.calls++
	return r.totals[userID], nil
}

type fakeProjectionCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newFakeProjectionCache() *fakeProjectionCache {
	return &fakeProjectionCache{entries: make(map[string][]byte)}
}

func (c *fakeProjectionCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *fakeProjectionCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.sets++
	return nil
}

func (c *fakeProjectionCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func TestGetProgress_CacheMissComputesAndFills(t *testing.T) {
	repo := &totalsRepo{totals: map[string]int{"user-1": 150}}
	cache := newFakeProjectionCache()
	handler := NewGetProgressHandler(
		repo, level.NewCalculator(level.DefaultCalculatorConfig()), cache, time.Minute, testLogger())

	dto, err := handler.Handle(context.Background(), GetProgressQuery{UserID: "user-1"})
	require.NoError(t, err)

	// 150 XP: порог уровня 2 равен 100, уровня 3 - 300.
	assert.Equal(t, 150, dto.TotalXP)
	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, 5, dto.NextMilestoneLevel)

	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, 1, cache.sets)
	assert.Contains(t, cache.entries, ProgressCacheKey("user-1"))
}

func TestGetProgress_CacheHitSkipsRepository(t *testing.T) {
	repo := &totalsRepo{totals: map[string]int{"user-1": 150}}
	cache := newFakeProjectionCache()
	handler := NewGetProgressHandler(
		repo, level.NewCalculator(level.DefaultCalculatorConfig()), cache, time.Minute, testLogger())

	first, err := handler.Handle(context.Background(), GetProgressQuery{UserID: "user-1"})
	require.NoError(t, err)

	second, err := handler.Handle(context.Background(), GetProgressQuery{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.calls, "повторное чтение обслуживается кэшем")
	assert.Equal(t, 1, cache.sets)
}

func TestGetProgress_CorruptCacheEntryFallsThrough(t *testing.T) {
	repo := &totalsRepo{totals: map[string]int{"user-1": 150}}
	cache := newFakeProjectionCache()
	cache.entries[ProgressCacheKey("user-1")] = []byte("{not json")

	handler := NewGetProgressHandler(
		repo, level.NewCalculator(level.DefaultCalculatorConfig()), cache, time.Minute, testLogger())

	dto, err := handler.Handle(context.Background(), GetProgressQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, 1, repo.calls)
}

func TestGetProgress_NilCacheReadsRepository(t *testing.T) {
	repo := &totalsRepo{totals: map[string]int{"user-1": 1050}}
	handler := NewGetProgressHandler(
		repo, level.NewCalculator(level.DefaultCalculatorConfig()), nil, time.Minute, testLogger())

	dto, err := handler.Handle(context.Background(), GetProgressQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 5, dto.Level)
	assert.Equal(t, 10, dto.NextMilestoneLevel)
}

func TestGetProgress_InvalidQuery(t *testing.T) {
	handler := NewGetProgressHandler(
		&totalsRepo{}, level.NewCalculator(level.DefaultCalculatorConfig()), nil, 0, testLogger())

	_, err := handler.Handle(context.Background(), GetProgressQuery{})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}
