package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
)

func TestSetPaused_BlocksUserMutations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)
	f.pay(t, 1, 1000)
	created, err := f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 1, 1000)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.SetPaused(ctx, "mallory", true), ErrUnauthorized)
	require.NoError(t, f.svc.SetPaused(ctx, testOperator, true))

	_, err = f.svc.ClaimFreeTree(ctx, 2)
	assert.ErrorIs(t, err, ErrPaused)
	_, err = f.svc.Water(ctx, 1)
	assert.ErrorIs(t, err, ErrPaused)
	// пауза проверяется раньше валидации аргументов
	_, err = f.svc.RedeemPointsForTree(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrPaused)
	_, err = f.svc.PurchasePremium(ctx, 1, 0, 0)
	assert.ErrorIs(t, err, ErrPaused)
	_, err = f.svc.PurchaseRealAsset(ctx, 1, 0, 0, 0, 0)
	assert.ErrorIs(t, err, ErrPaused)

	_, err = f.svc.MarkProcessed(ctx, testOperator, created[0].ID)
	require.NoError(t, err)

	cfg, err := f.svc.Config(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Paused)

	require.NoError(t, f.svc.SetPaused(ctx, testOperator, true))
	require.NoError(t, f.svc.SetPaused(ctx, testOperator, false))

	_, err = f.svc.ClaimFreeTree(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, []events.Type{
		events.TreeClaimed,
		events.RealAssetPurchased,
		events.Paused,
		events.PurchaseProcessed,
		events.Unpaused,
		events.TreeClaimed,
	}, f.eventTypes())
}

func TestUpdateParam(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.UpdateParam(ctx, "mallory", model.ParamPremiumTreePrice, 700)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.UpdateParam(ctx, testOperator, model.Param("max_premium"), 20)
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = f.svc.UpdateParam(ctx, testOperator, model.ParamPremiumTreePrice, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = f.svc.UpdateParam(ctx, testOperator, model.ParamStreakBonusPerDay, -1)
	require.ErrorIs(t, err, ErrInvalidParameter)

	change, err := f.svc.UpdateParam(ctx, testOperator, model.ParamCooldown, 3600)
	require.NoError(t, err)
	assert.Equal(t, int64(86400), change.OldValue)
	assert.Equal(t, int64(3600), change.NewValue)

	change, err = f.svc.UpdateParam(ctx, testOperator, model.ParamStreakBonusPerDay, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), change.OldValue)

	cfg, err := f.svc.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Config.Cooldown)
	assert.Zero(t, cfg.Config.StreakBonusPerDay)

	ev := f.lastEvent(t)
	assert.Equal(t, events.ConfigUpdated, ev.Type)
	assert.Equal(t, testOperator, ev.Actor)
	assert.Equal(t, "streak_bonus_per_day", ev.Data["param"])
	assert.Equal(t, int64(5), ev.Data["old_value"])
	assert.Equal(t, int64(0), ev.Data["new_value"])
}

func TestUpdateParam_RejectsOverflowingValues(t *testing.T) {
	tests := []struct {
		name  string
		param model.Param
		value int64
	}{
		{name: "cooldown wraps duration", param: model.ParamCooldown, value: 10_000_000_000},
		{name: "cooldown just above cap", param: model.ParamCooldown, value: int64(model.MaxCooldown/time.Second) + 1},
		{name: "premium price times quantity", param: model.ParamPremiumTreePrice, value: math.MaxInt64},
		{name: "unit price times quantity", param: model.ParamMinPurchaseUnitPrice, value: model.MaxUnitPrice + 1},
		{name: "points per water", param: model.ParamPointsPerWater, value: math.MaxInt64},
		{name: "streak bonus per day", param: model.ParamStreakBonusPerDay, value: model.MaxStreakBonusPerDay + 1},
		{name: "streak bonus days", param: model.ParamMaxStreakBonusDays, value: math.MaxInt64},
		{name: "points per redeemed tree", param: model.ParamPointsPerRedeemedTree, value: model.MaxPointsPerRedeemed + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)

			_, err := f.svc.UpdateParam(ctx, testOperator, tt.param, tt.value)
			require.ErrorIs(t, err, ErrInvalidParameter)

			cfg, err := f.svc.Config(ctx)
			require.NoError(t, err)
			assert.Equal(t, testProtocol().Config, cfg.Config)
			assert.Empty(t, f.eventTypes())
		})
	}
}

func TestUpdateParam_UpperBoundsAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	maxSeconds := int64(model.MaxCooldown / time.Second)
	_, err := f.svc.UpdateParam(ctx, testOperator, model.ParamCooldown, maxSeconds)
	require.NoError(t, err)
	_, err = f.svc.UpdateParam(ctx, testOperator, model.ParamPremiumTreePrice, model.MaxUnitPrice)
	require.NoError(t, err)
	_, err = f.svc.UpdateParam(ctx, testOperator, model.ParamPointsPerWater, model.MaxPointsPerWater)
	require.NoError(t, err)

	cfg, err := f.svc.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MaxCooldown, cfg.Config.Cooldown)

	// с наибольшим кулдауном повторный полив в тот же момент отклоняется
	_, err = f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)
	res, err := f.svc.Water(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.MaxPointsPerWater, res.Earned)
	_, err = f.svc.Water(ctx, 1)
	require.ErrorIs(t, err, ErrCooldownActive)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Water(ctx, 1)
	require.ErrorIs(t, err, ErrCooldownActive)
}

func TestUpdateParam_AppliesToNextWatering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.Water(ctx, 1)
	require.NoError(t, err)

	_, err = f.svc.UpdateParam(ctx, testOperator, model.ParamCooldown, 60)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	res, err := f.svc.Water(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Streak)
}

func TestSetBeneficiary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.svc.SetBeneficiary(ctx, testOperator, "  "), ErrInvalidParameter)
	require.ErrorIs(t, f.svc.SetBeneficiary(ctx, "mallory", "evil"), ErrUnauthorized)
	require.NoError(t, f.svc.SetBeneficiary(ctx, testOperator, "forest-fund"))

	f.pay(t, 1, 500)
	_, err := f.svc.PurchasePremium(ctx, 1, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), f.rail.BalanceOf("forest-fund"))
	assert.Zero(t, f.rail.BalanceOf(testBeneficiary))
}

func TestSweep_RecoversStrandedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Sweep(ctx, testOperator)
	require.ErrorIs(t, err, ErrNothingToSweep)

	// ни перевод получателю, ни возврат плательщику не проходят: платёж остаётся в казне
	f.rail.FailTransfersTo(testBeneficiary, errors.New("offline"))
	f.rail.FailTransfersTo(payment.UserAccount(1), errors.New("closed"))
	f.pay(t, 1, 500)
	_, err = f.svc.PurchasePremium(ctx, 1, 1, 500)
	require.ErrorIs(t, err, ErrTransferFailed)

	_, err = f.svc.Sweep(ctx, "mallory")
	require.ErrorIs(t, err, ErrUnauthorized)

	amount, err := f.svc.Sweep(ctx, testOperator)
	require.NoError(t, err)
	assert.Equal(t, int64(500), amount)
	assert.Equal(t, int64(500), f.rail.BalanceOf(payment.OperatorAccount(testOperator)))
	assert.Zero(t, f.rail.BalanceOf(testTreasury))

	ev := f.lastEvent(t)
	assert.Equal(t, events.FundsSwept, ev.Type)
	assert.Equal(t, int64(500), ev.Data["amount"])
}

func TestMutations_RejectMarkedContext(t *testing.T) {
	ctx, err := enter(context.Background())
	require.NoError(t, err)
	f := newFixture(t)

	_, err = f.svc.ClaimFreeTree(ctx, 1)
	assert.ErrorIs(t, err, ErrReentrantCall)
	_, err = f.svc.MarkProcessed(ctx, testOperator, 1)
	assert.ErrorIs(t, err, ErrReentrantCall)
	assert.ErrorIs(t, f.svc.SetPaused(ctx, testOperator, true), ErrReentrantCall)

	// чтение из помеченного контекста разрешено
	_, err = f.svc.ForestSummary(ctx, 1)
	assert.NoError(t, err)
}
