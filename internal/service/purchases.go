package service

import (
	"context"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
	"github.com/mmeshcher/treeledger/internal/repository"
)

// MaxRealAssetQuantity ограничивает число реальных деревьев в одной покупке.
const MaxRealAssetQuantity = 100

// PurchaseRealAsset создаёт quantity покупок реальных деревьев в статусе PENDING и
// перечисляет всю сумму paid получателю одним переводом. При ошибке перевода записи
// не создаются, а платёж возвращается плательщику.
// Сумма на единицу округляется вниз; остаток от деления в записях не учитывается.
func (s *Service) PurchaseRealAsset(ctx context.Context, userID, speciesID, projectID, quantity, paid int64) ([]model.Purchase, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	var created []model.Purchase
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) (err error) {
		state, err := activeProtocol(ctx, tx, false)
		if err != nil {
			return err
		}
		if quantity < 1 || quantity > MaxRealAssetQuantity {
			return ErrQuantityOutOfRange
		}
		if speciesID <= 0 || projectID <= 0 {
			return ErrInvalidReference
		}
		if paid < state.Config.MinPurchaseUnitPrice*quantity {
			return ErrBelowMinimum
		}

		// блокировка аккаунта упорядочивает покупку относительно полива того же пользователя
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}

		if err := s.collect(ctx, userID, paid); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				s.giveBack(ctx, userID, paid)
			}
		}()

		perUnit := paid / quantity
		created = make([]model.Purchase, 0, quantity)
		for range quantity {
			id, err := tx.NextID(ctx, repository.SequencePurchase)
			if err != nil {
				return err
			}
			p := model.Purchase{
				ID:         id,
				BuyerID:    userID,
				SpeciesID:  speciesID,
				ProjectID:  projectID,
				AmountPaid: perUnit,
				CreatedAt:  now,
			}
			if err := tx.InsertPurchase(ctx, &p); err != nil {
				return err
			}
			created = append(created, p)
		}

		return s.transfer(ctx, payment.Transfer{
			To:        state.Config.Beneficiary,
			Amount:    paid,
			Reference: "real-asset",
		})
	})
	if err != nil {
		return nil, err
	}

	for _, p := range created {
		s.emit(events.New(events.RealAssetPurchased, userActor(userID), now, map[string]any{
			"purchase_id": p.ID,
			"species_id":  p.SpeciesID,
			"project_id":  p.ProjectID,
			"amount_paid": p.AmountPaid,
		}))
	}
	return created, nil
}

// MarkProcessed переводит покупку в статус PROCESSED. Доступно только оператору.
func (s *Service) MarkProcessed(ctx context.Context, actor string, purchaseID int64) (*model.Purchase, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	now := s.clock()

	var purchase *model.Purchase
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if p.Processed {
			return ErrAlreadyProcessed
		}
		p.Processed = true

		if err := tx.SavePurchase(ctx, p); err != nil {
			return err
		}
		purchase = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.New(events.PurchaseProcessed, actor, now, map[string]any{
		"purchase_id": purchase.ID,
		"buyer_id":    purchase.BuyerID,
	}))
	return purchase, nil
}

// GetPurchase возвращает покупку по идентификатору.
func (s *Service) GetPurchase(ctx context.Context, id int64) (*model.Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// GetPurchasesByUser возвращает покупки пользователя в порядке создания.
func (s *Service) GetPurchasesByUser(ctx context.Context, userID int64) ([]model.Purchase, error) {
	return s.repo.GetPurchasesByUser(ctx, userID)
}

// CountPurchasesByUser возвращает число покупок пользователя.
func (s *Service) CountPurchasesByUser(ctx context.Context, userID int64) (int64, error) {
	return s.repo.CountPurchasesByUser(ctx, userID)
}

// PendingPurchases возвращает необработанные покупки с идентификатором больше afterID.
// Доступно только оператору.
func (s *Service) PendingPurchases(ctx context.Context, actor string, afterID int64, limit int) ([]model.Purchase, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	return s.repo.GetPendingPurchases(ctx, afterID, limit)
}
