package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
)

func TestComputeWatering(t *testing.T) {
	cfg := testProtocol().Config
	last := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		acct       model.Account
		trees      int64
		now        time.Time
		wantStreak int64
		wantBonus  int64
		wantEarned int64
	}{
		{
			name:       "first watering",
			acct:       model.Account{},
			trees:      1,
			now:        last,
			wantStreak: 1,
			wantEarned: 10,
		},
		{
			name:       "continues within two cooldowns",
			acct:       model.Account{LastWaterTime: &last, Streak: 1},
			trees:      1,
			now:        last.Add(2 * cfg.Cooldown),
			wantStreak: 2,
			wantBonus:  5,
			wantEarned: 15,
		},
		{
			name:       "resets after two cooldowns",
			acct:       model.Account{LastWaterTime: &last, Streak: 6},
			trees:      1,
			now:        last.Add(2*cfg.Cooldown + time.Second),
			wantStreak: 1,
			wantEarned: 10,
		},
		{
			name:       "bonus capped at max days",
			acct:       model.Account{LastWaterTime: &last, Streak: 20},
			trees:      1,
			now:        last.Add(cfg.Cooldown + time.Second),
			wantStreak: 21,
			wantBonus:  35,
			wantEarned: 45,
		},
		{
			name:       "base scales with trees",
			acct:       model.Account{},
			trees:      5,
			now:        last,
			wantStreak: 1,
			wantEarned: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeWatering(&tt.acct, tt.trees, cfg, tt.now)
			assert.Equal(t, tt.wantStreak, got.streak)
			assert.Equal(t, tt.wantBonus, got.bonus)
			assert.Equal(t, tt.wantEarned, got.earned)
			assert.Equal(t, got.base+got.bonus, got.earned)
		})
	}
}

func TestWater_NoTreesOwned(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Water(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoTreesOwned)
	assert.ErrorIs(t, err, ErrStateConflict)

	ps, err := f.svc.PlantState(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, ps.LastWaterTime)
	assert.Zero(t, ps.TotalWaterCount)
}

func TestWater_StreakSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)

	res, err := f.svc.Water(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Streak)
	assert.Equal(t, int64(10), res.Points)
	assert.Equal(t, int64(1), res.TotalWaterCount)

	// ровно через интервал полив ещё закрыт
	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.Water(ctx, 1)
	require.ErrorIs(t, err, ErrCooldownActive)

	ok, remaining, err := f.svc.CanWaterNow(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Second, remaining)

	f.clock.Advance(time.Second)
	res, err = f.svc.Water(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Streak)
	assert.Equal(t, int64(25), res.Points)

	f.clock.Advance(24*time.Hour + time.Second)
	res, err = f.svc.Water(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Streak)
	assert.Equal(t, int64(45), res.Points)
	assert.Equal(t, int64(3), res.TotalWaterCount)

	ps, err := f.svc.PlantState(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, ps.LastWaterTime)
	assert.True(t, f.clock.Now().Equal(*ps.LastWaterTime))
}

func TestWater_StreakResetsAfterMissedCycle(t *testing.T) {
	tests := []struct {
		name       string
		gap        time.Duration
		wantStreak int64
	}{
		{name: "exactly two cooldowns continues", gap: 48 * time.Hour, wantStreak: 2},
		{name: "past two cooldowns resets", gap: 48*time.Hour + time.Second, wantStreak: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)

			_, err := f.svc.ClaimFreeTree(ctx, 1)
			require.NoError(t, err)
			_, err = f.svc.Water(ctx, 1)
			require.NoError(t, err)

			f.clock.Advance(tt.gap)
			res, err := f.svc.Water(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStreak, res.Streak)
		})
	}
}

func TestWater_BasePointsCountAllTrees(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)
	f.pay(t, 1, 1500)
	_, err = f.svc.PurchasePremium(ctx, 1, 3, 1500)
	require.NoError(t, err)
	f.pay(t, 1, 1000)
	_, err = f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 1, 1000)
	require.NoError(t, err)

	total, err := f.svc.TotalTrees(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)

	res, err := f.svc.Water(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Earned)
}

func TestPreviewWater_MatchesWater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)

	for day := 0; day < 10; day++ {
		preview, err := f.svc.PreviewWater(ctx, 1)
		require.NoError(t, err)
		require.True(t, preview.Eligible)

		res, err := f.svc.Water(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, preview.Streak, res.Streak)
		assert.Equal(t, preview.Earned, res.Earned)
		assert.Equal(t, preview.BasePoints+preview.StreakBonus, res.Earned)

		after, err := f.svc.PreviewWater(ctx, 1)
		require.NoError(t, err)
		assert.False(t, after.Eligible)
		assert.Equal(t, 24*time.Hour+time.Second, after.TimeRemaining)

		f.clock.Advance(24*time.Hour + time.Second)
	}
}

func TestWater_EmitsEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 7)
	require.NoError(t, err)
	_, err = f.svc.Water(ctx, 7)
	require.NoError(t, err)

	ev := f.lastEvent(t)
	assert.Equal(t, events.TreeWatered, ev.Type)
	assert.Equal(t, "7", ev.Actor)
	assert.Equal(t, int64(10), ev.Data["earned"])
	assert.Equal(t, int64(1), ev.Data["streak"])
}

func TestWater_ConcurrentCallsCreditOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Water(ctx, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, ErrCooldownActive):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	summary, err := f.svc.ForestSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.Points)
}
