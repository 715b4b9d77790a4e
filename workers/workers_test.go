package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"burn-settlement-system/database"
	"burn-settlement-system/exports"
	"burn-settlement-system/models"
	"burn-settlement-system/oracle"
	"burn-settlement-system/services"
)

type countingOracle struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (o *countingOracle) GetPrice(_ context.Context, assetID string) (oracle.Price, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string]int{}
	}
	o.calls[assetID]++
	if o.fail[assetID] {
		return oracle.Price{}, errors.New("upstream down")
	}
	return oracle.Price{USD: decimal.NewFromInt(1), Source: "test"}, nil
}

func setupDB(t *testing.T) (*gorm.DB, *models.Event) {
	t.Helper()
	db, err := database.Open(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)

	events := services.NewEventService(db)
	events.Now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	active, err := events.CreateEvent(ctx, services.CreateEventInput{
		Name:            "Active",
		StartsAt:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		MaxUsdPerTx:     decimal.NewFromInt(10),
		MaxUsdPerWallet: decimal.NewFromInt(10),
		Assets: []services.AssetInput{
			{AssetID: "A", DailyCapUsd: decimal.NewFromInt(100)},
			{AssetID: "B", DailyCapUsd: decimal.NewFromInt(100)},
			{AssetID: "C", DailyCapUsd: decimal.NewFromInt(100)},
		},
	})
	require.NoError(t, err)
	_, err = events.ActivateEvent(ctx, active.ID)
	require.NoError(t, err)

	off := false
	for _, a := range active.Assets {
		if a.AssetID == "C" {
			_, err = events.UpdateAsset(ctx, a.ID, services.AssetUpdate{IsActive: &off})
			require.NoError(t, err)
		}
	}

	_, err = events.CreateEvent(ctx, services.CreateEventInput{
		Name:            "Inactive",
		StartsAt:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		MaxUsdPerTx:     decimal.NewFromInt(10),
		MaxUsdPerWallet: decimal.NewFromInt(10),
		Assets:          []services.AssetInput{{AssetID: "D", DailyCapUsd: decimal.NewFromInt(100)}},
	})
	require.NoError(t, err)
	return db, active
}

func TestWarmOnceOnlyTouchesActiveAssets(t *testing.T) {
	db, _ := setupDB(t)
	o := &countingOracle{fail: map[string]bool{"B": true}}

	warmed, err := NewPriceWarmer(db, o).WarmOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, warmed)
	require.Equal(t, map[string]int{"A": 1, "B": 1}, o.calls)
}

func TestPollPricesStopsWithContext(t *testing.T) {
	db, _ := setupDB(t)
	o := &countingOracle{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		PollPrices(ctx, NewPriceWarmer(db, o), 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.calls["A"] > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

type memoryUploader struct {
	keys []string
}

func (m *memoryUploader) Upload(_ context.Context, key string, _ []byte, _ string) error {
	m.keys = append(m.keys, key)
	return nil
}

func TestSchedulerJobs(t *testing.T) {
	db, event := setupDB(t)
	ledger := services.NewCapLedger(db)
	ctx := context.Background()

	for _, a := range event.Assets {
		_, err := ledger.IncrementAssetDaily(db, a.ID, decimal.NewFromInt(5), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	}

	up := &memoryUploader{}
	exporter := &exports.BurnExporter{Source: services.NewReportingService(db), Uploader: up, Prefix: "x"}
	s, err := NewScheduler(ledger, exporter)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC) }

	s.ResetDailyCaps(ctx)
	var assets []models.AcceptedAsset
	require.NoError(t, db.Where("event_id = ?", event.ID).Find(&assets).Error)
	for _, a := range assets {
		require.True(t, a.CurrentDailyBurnedUsd.IsZero(), a.AssetID)
	}

	s.ExportPreviousDay(ctx)
	require.Equal(t, []string{"x/2026-03-10.csv"}, up.keys)

	runCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, s.Start(runCtx))
	cancel()
}
