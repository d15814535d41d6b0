package service

import (
	"context"
	"strings"
	"time"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
	"github.com/mmeshcher/treeledger/internal/repository"
)

// paramField связывает имя параметра с полем конфигурации и допустимым диапазоном значений.
type paramField struct {
	get func(c *model.ProtocolConfig) int64
	set func(c *model.ProtocolConfig, v int64)
	min int64
	max int64
}

var paramFields = map[model.Param]paramField{
	model.ParamCooldown: {
		get: func(c *model.ProtocolConfig) int64 { return int64(c.Cooldown / time.Second) },
		set: func(c *model.ProtocolConfig, v int64) { c.Cooldown = time.Duration(v) * time.Second },
		min: 1,
		max: int64(model.MaxCooldown / time.Second),
	},
	model.ParamMinPurchaseUnitPrice: {
		get: func(c *model.ProtocolConfig) int64 { return c.MinPurchaseUnitPrice },
		set: func(c *model.ProtocolConfig, v int64) { c.MinPurchaseUnitPrice = v },
		min: 1,
		max: model.MaxUnitPrice,
	},
	model.ParamPremiumTreePrice: {
		get: func(c *model.ProtocolConfig) int64 { return c.PremiumTreePrice },
		set: func(c *model.ProtocolConfig, v int64) { c.PremiumTreePrice = v },
		min: 1,
		max: model.MaxUnitPrice,
	},
	model.ParamPointsPerWater: {
		get: func(c *model.ProtocolConfig) int64 { return c.PointsPerWater },
		set: func(c *model.ProtocolConfig, v int64) { c.PointsPerWater = v },
		max: model.MaxPointsPerWater,
	},
	model.ParamStreakBonusPerDay: {
		get: func(c *model.ProtocolConfig) int64 { return c.StreakBonusPerDay },
		set: func(c *model.ProtocolConfig, v int64) { c.StreakBonusPerDay = v },
		max: model.MaxStreakBonusPerDay,
	},
	model.ParamMaxStreakBonusDays: {
		get: func(c *model.ProtocolConfig) int64 { return c.MaxStreakBonusDays },
		set: func(c *model.ProtocolConfig, v int64) { c.MaxStreakBonusDays = v },
		max: model.MaxStreakBonusDays,
	},
	model.ParamPointsPerRedeemedTree: {
		get: func(c *model.ProtocolConfig) int64 { return c.PointsPerRedeemedTree },
		set: func(c *model.ProtocolConfig, v int64) { c.PointsPerRedeemedTree = v },
		min: 1,
		max: model.MaxPointsPerRedeemed,
	},
}

// ConfigChange описывает изменение одного параметра протокола.
type ConfigChange struct {
	Param    model.Param `json:"param"`
	OldValue int64       `json:"old_value"`
	NewValue int64       `json:"new_value"`
}

// UpdateParam заменяет значение числового параметра протокола. Доступно только оператору.
// Интервал ожидания задаётся в секундах.
func (s *Service) UpdateParam(ctx context.Context, actor string, param model.Param, value int64) (*ConfigChange, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	field, ok := paramFields[param]
	if !ok || value < field.min || value > field.max {
		return nil, ErrInvalidParameter
	}
	now := s.clock()

	change := ConfigChange{Param: param, NewValue: value}
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		state, err := tx.LockProtocol(ctx)
		if err != nil {
			return err
		}
		change.OldValue = field.get(&state.Config)
		field.set(&state.Config, value)
		return tx.SaveProtocol(ctx, state)
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.New(events.ConfigUpdated, actor, now, map[string]any{
		"param":     string(change.Param),
		"old_value": change.OldValue,
		"new_value": change.NewValue,
	}))
	return &change, nil
}

// SetBeneficiary меняет получателя выручки. Доступно только оператору.
func (s *Service) SetBeneficiary(ctx context.Context, actor, beneficiary string) error {
	ctx, err := enter(ctx)
	if err != nil {
		return err
	}
	if err := s.authorize(actor); err != nil {
		return err
	}
	beneficiary = strings.TrimSpace(beneficiary)
	if beneficiary == "" {
		return ErrInvalidParameter
	}
	now := s.clock()

	var old string
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		state, err := tx.LockProtocol(ctx)
		if err != nil {
			return err
		}
		old = state.Config.Beneficiary
		state.Config.Beneficiary = beneficiary
		return tx.SaveProtocol(ctx, state)
	})
	if err != nil {
		return err
	}

	s.emit(events.New(events.ConfigUpdated, actor, now, map[string]any{
		"param":     "beneficiary",
		"old_value": old,
		"new_value": beneficiary,
	}))
	return nil
}

// SetPaused включает или снимает паузу. Повторная установка того же значения ничего не меняет.
// Доступно только оператору.
func (s *Service) SetPaused(ctx context.Context, actor string, paused bool) error {
	ctx, err := enter(ctx)
	if err != nil {
		return err
	}
	if err := s.authorize(actor); err != nil {
		return err
	}
	now := s.clock()

	changed := false
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		state, err := tx.LockProtocol(ctx)
		if err != nil {
			return err
		}
		if state.Paused == paused {
			return nil
		}
		state.Paused = paused
		changed = true
		return tx.SaveProtocol(ctx, state)
	})
	if err != nil || !changed {
		return err
	}

	typ := events.Unpaused
	if paused {
		typ = events.Paused
	}
	s.emit(events.New(typ, actor, now, nil))
	return nil
}

// Sweep переводит весь остаток казначейского счёта на счёт оператора.
// Остаток образуется из платежей, приложенных к неудавшимся вызовам. Доступно только оператору.
func (s *Service) Sweep(ctx context.Context, actor string) (int64, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.authorize(actor); err != nil {
		return 0, err
	}
	now := s.clock()

	var amount int64
	to := payment.OperatorAccount(actor)
	// блокировка протокола не даёт забрать средства, ожидающие перевода в идущей покупке
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.LockProtocol(ctx); err != nil {
			return err
		}
		balance, err := s.rail.Balance(ctx)
		if err != nil {
			return err
		}
		if balance <= 0 {
			return ErrNothingToSweep
		}
		amount = balance
		return s.transfer(ctx, payment.Transfer{To: to, Amount: amount, Reference: "sweep"})
	})
	if err != nil {
		return 0, err
	}

	s.emit(events.New(events.FundsSwept, actor, now, map[string]any{
		"to":     to,
		"amount": amount,
	}))
	return amount, nil
}

// Config возвращает снимок параметров протокола и признак паузы.
func (s *Service) Config(ctx context.Context) (*model.ProtocolState, error) {
	return s.repo.GetProtocol(ctx)
}
