package service

import (
	"context"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
	"github.com/mmeshcher/treeledger/internal/repository"
)

// MaxPremiumPerTransaction ограничивает число премиум-деревьев в одной покупке.
const MaxPremiumPerTransaction = 10

// PurchasePremium продаёт пользователю quantity премиум-деревьев за paid.
//
// Порядок фиксирован: платёж зачисляется в казну, затем начисляются деревья и
// статистика продаж, затем возвращается переплата и только потом цена перечисляется
// получателю. Ошибка любого перевода откатывает начисление целиком, а невозвращённая
// часть платежа отправляется плательщику.
func (s *Service) PurchasePremium(ctx context.Context, userID, quantity, paid int64) (*model.PremiumReceipt, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	var receipt model.PremiumReceipt
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) (err error) {
		state, err := activeProtocol(ctx, tx, true)
		if err != nil {
			return err
		}
		if quantity < 1 || quantity > MaxPremiumPerTransaction {
			return ErrQuantityOutOfRange
		}
		price := state.Config.PremiumTreePrice * quantity
		if paid < price {
			return ErrInsufficientPayment
		}

		if err := s.collect(ctx, userID, paid); err != nil {
			return err
		}
		var returned int64
		defer func() {
			if err != nil {
				s.giveBack(ctx, userID, paid-returned)
			}
		}()

		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		acct.VirtualTrees += quantity
		acct.PremiumTrees += quantity
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		state.PremiumSold += quantity
		state.PremiumRevenue += price
		if err := tx.SaveProtocol(ctx, state); err != nil {
			return err
		}

		refund := paid - price
		if refund > 0 {
			err := s.transfer(ctx, payment.Transfer{
				To:        payment.UserAccount(userID),
				Amount:    refund,
				Reference: "premium-refund",
			})
			if err != nil {
				return err
			}
			returned = refund
		}
		err = s.transfer(ctx, payment.Transfer{
			To:        state.Config.Beneficiary,
			Amount:    price,
			Reference: "premium",
		})
		if err != nil {
			return err
		}

		receipt = model.PremiumReceipt{
			Quantity:     quantity,
			Price:        price,
			Refund:       refund,
			VirtualTrees: acct.VirtualTrees,
			PremiumTrees: acct.PremiumTrees,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.New(events.PremiumPurchased, userActor(userID), now, map[string]any{
		"quantity":      receipt.Quantity,
		"price":         receipt.Price,
		"refund":        receipt.Refund,
		"virtual_trees": receipt.VirtualTrees,
		"premium_trees": receipt.PremiumTrees,
	}))
	return &receipt, nil
}

// PremiumStats возвращает статистику продаж премиум-деревьев и текущую цену.
func (s *Service) PremiumStats(ctx context.Context) (*model.PremiumStats, error) {
	state, err := s.repo.GetProtocol(ctx)
	if err != nil {
		return nil, err
	}
	return &model.PremiumStats{
		TotalSold:    state.PremiumSold,
		TotalRevenue: state.PremiumRevenue,
		UnitPrice:    state.Config.PremiumTreePrice,
	}, nil
}
