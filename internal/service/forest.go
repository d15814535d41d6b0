package service

import (
	"context"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/repository"
)

// ClaimFreeTree выдаёт пользователю одно бесплатное виртуальное дерево. Допускается один раз.
func (s *Service) ClaimFreeTree(ctx context.Context, userID int64) (*model.Account, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	var acct *model.Account
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := activeProtocol(ctx, tx, false); err != nil {
			return err
		}

		a, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		if a.HasFreeClaim {
			return ErrAlreadyClaimed
		}
		a.VirtualTrees++
		a.HasFreeClaim = true

		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.New(events.TreeClaimed, userActor(userID), now, map[string]any{
		"virtual_trees": acct.VirtualTrees,
	}))
	return acct, nil
}

// RedeemPointsForTree обменивает очки пользователя на n виртуальных деревьев.
func (s *Service) RedeemPointsForTree(ctx context.Context, userID, n int64) (*model.Account, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	var (
		acct  *model.Account
		spent int64
	)
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		state, err := activeProtocol(ctx, tx, false)
		if err != nil {
			return err
		}
		if n < 1 {
			return ErrZeroQuantity
		}

		a, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		cost := state.Config.PointsPerRedeemedTree
		// n*cost может переполнить int64
		if a.Points/cost < n {
			return ErrInsufficientPoints
		}
		spent = n * cost
		a.Points -= spent
		a.VirtualTrees += n

		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.New(events.PointsRedeemed, userActor(userID), now, map[string]any{
		"trees":         n,
		"points_spent":  spent,
		"points":        acct.Points,
		"virtual_trees": acct.VirtualTrees,
	}))
	return acct, nil
}

// ForestSummary возвращает сводку по лесу пользователя.
func (s *Service) ForestSummary(ctx context.Context, userID int64) (*model.ForestSummary, error) {
	acct, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	realTrees, err := s.repo.CountPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.ForestSummary{
		VirtualTrees: acct.VirtualTrees,
		PremiumTrees: acct.PremiumTrees,
		RealTrees:    realTrees,
		TotalTrees:   acct.VirtualTrees + realTrees,
		Points:       acct.Points,
		HasFreeClaim: acct.HasFreeClaim,
	}, nil
}

// TotalTrees возвращает общее число деревьев пользователя: виртуальные плюс реальные.
func (s *Service) TotalTrees(ctx context.Context, userID int64) (int64, error) {
	summary, err := s.ForestSummary(ctx, userID)
	if err != nil {
		return 0, err
	}
	return summary.TotalTrees, nil
}

// PlantState возвращает состояние серии поливов пользователя.
func (s *Service) PlantState(ctx context.Context, userID int64) (*model.PlantState, error) {
	acct, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	ps := acct.PlantState()
	return &ps, nil
}
