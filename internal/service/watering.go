package service

import (
	"context"
	"time"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/repository"
)

type wateringOutcome struct {
	streak int64
	base   int64
	bonus  int64
	earned int64
}

// computeWatering рассчитывает серию и начисление для полива в момент now.
// Серия продолжается, если с прошлого полива прошло не больше двух интервалов ожидания.
func computeWatering(acct *model.Account, trees int64, cfg model.ProtocolConfig, now time.Time) wateringOutcome {
	streak := int64(1)
	if acct.LastWaterTime != nil && !now.After(acct.LastWaterTime.Add(2*cfg.Cooldown)) {
		streak = acct.Streak + 1
	}

	base := cfg.PointsPerWater * trees
	var bonus int64
	if streak > 1 {
		bonus = min(streak-1, cfg.MaxStreakBonusDays) * cfg.StreakBonusPerDay
	}

	return wateringOutcome{
		streak: streak,
		base:   base,
		bonus:  bonus,
		earned: base + bonus,
	}
}

// wateringWindow сообщает, открыт ли полив, и сколько осталось ждать.
// Полив разрешён строго после истечения интервала, поэтому к остатку добавляется одна секунда.
func wateringWindow(acct *model.Account, cfg model.ProtocolConfig, now time.Time) (bool, time.Duration) {
	if acct.LastWaterTime == nil {
		return true, 0
	}
	next := acct.LastWaterTime.Add(cfg.Cooldown)
	if now.After(next) {
		return true, 0
	}
	return false, next.Sub(now) + time.Second
}

// Water поливает растение пользователя и начисляет очки за все его деревья с бонусом за серию.
func (s *Service) Water(ctx context.Context, userID int64) (*model.WaterResult, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	var (
		res     model.WaterResult
		outcome wateringOutcome
	)
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		state, err := activeProtocol(ctx, tx, false)
		if err != nil {
			return err
		}

		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if ok, _ := wateringWindow(acct, state.Config, now); !ok {
			return ErrCooldownActive
		}

		realTrees, err := tx.CountPurchasesByUser(ctx, userID)
		if err != nil {
			return err
		}
		trees := acct.VirtualTrees + realTrees
		if trees == 0 {
			return ErrNoTreesOwned
		}

		outcome = computeWatering(acct, trees, state.Config, now)
		acct.Streak = outcome.streak
		acct.Points += outcome.earned
		acct.TotalWaterCount++
		wateredAt := now
		acct.LastWaterTime = &wateredAt

		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		res = model.WaterResult{
			Streak:          acct.Streak,
			Earned:          outcome.earned,
			Points:          acct.Points,
			TotalWaterCount: acct.TotalWaterCount,
			WateredAt:       now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.New(events.TreeWatered, userActor(userID), now, map[string]any{
		"streak":       res.Streak,
		"base_points":  outcome.base,
		"streak_bonus": outcome.bonus,
		"earned":       res.Earned,
		"points":       res.Points,
	}))
	return &res, nil
}

// PreviewWater рассчитывает результат полива в текущий момент, не изменяя состояние.
func (s *Service) PreviewWater(ctx context.Context, userID int64) (*model.WaterPreview, error) {
	now := s.clock()

	state, err := s.repo.GetProtocol(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	realTrees, err := s.repo.CountPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	eligible, remaining := wateringWindow(acct, state.Config, now)
	outcome := computeWatering(acct, acct.VirtualTrees+realTrees, state.Config, now)

	return &model.WaterPreview{
		Eligible:      eligible,
		TimeRemaining: remaining,
		Streak:        outcome.streak,
		BasePoints:    outcome.base,
		StreakBonus:   outcome.bonus,
		Earned:        outcome.earned,
	}, nil
}

// CanWaterNow сообщает, может ли пользователь полить сейчас, и сколько осталось ждать.
func (s *Service) CanWaterNow(ctx context.Context, userID int64) (bool, time.Duration, error) {
	state, err := s.repo.GetProtocol(ctx)
	if err != nil {
		return false, 0, err
	}
	acct, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return false, 0, err
	}

	ok, remaining := wateringWindow(acct, state.Config, s.clock())
	return ok, remaining, nil
}
