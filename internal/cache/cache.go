package cache

import (
	"context"
	"fmt"
	"time"

	"medipos/backend/internal/domain"
)

// StockCache holds computed stock-status projections. Entries are evicted
// whenever a sale or purchase touches the underlying counter, so a short TTL
// only bounds staleness for writers outside this process.
type StockCache interface {
	Get(ctx context.Context, key string) (*domain.StockStatus, bool, error)
	Set(ctx context.Context, key string, value *domain.StockStatus, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// StockKey builds the cache key for one (store, medicine) pair.
func StockKey(storeID int64, medicineID int64) string {
	return fmt.Sprintf("stock:%d:%d", storeID, medicineID)
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string) (*domain.StockStatus, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Set(_ context.Context, _ string, _ *domain.StockStatus, _ time.Duration) error {
	return nil
}

func (NoopStockCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
