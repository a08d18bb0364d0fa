package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"

	"github.com/sawpanic/finengine/internal/detectors"
	"github.com/sawpanic/finengine/internal/recommendation"
)

type fakeStore struct {
	recommendation.Store
	hasRecent bool
	calls     int
}

func (f *fakeStore) HasRecent(_ context.Context, _ detectors.Kind, _ int) (bool, error) {
	f.calls++
	return f.hasRecent, nil
}

func TestHasRecent_CacheHitSkipsStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := &fakeStore{hasRecent: false}
	rc := New(store, db, 60)

	mock.ExpectExists(cacheKey(detectors.KindExpenseSpike)).SetVal(1)

	recent, err := rc.HasRecent(context.Background(), detectors.KindExpenseSpike, 60)
	if err != nil {
		t.Fatal(err)
	}
	if !recent {
		t.Error("expected cache hit to report recent=true")
	}
	if store.calls != 0 {
		t.Errorf("expected store not to be queried on cache hit, called %d times", store.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}

func TestHasRecent_CacheMissFallsThroughAndWarms(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := &fakeStore{hasRecent: true}
	rc := New(store, db, 60)

	key := cacheKey(detectors.KindRevenueDecline)
	mock.ExpectExists(key).SetVal(0)
	mock.ExpectSet(key, "1", 60*time.Minute).SetVal("OK")

	recent, err := rc.HasRecent(context.Background(), detectors.KindRevenueDecline, 60)
	if err != nil {
		t.Fatal(err)
	}
	if !recent {
		t.Error("expected store fallback to report recent=true")
	}
	if store.calls != 1 {
		t.Errorf("expected store to be queried once, got %d", store.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("redis expectations not met: %v", err)
	}
}
