package payment

import (
	"context"
	"fmt"
	"sync"
)

// TransferHook вызывается перед исполнением перевода MemoryRail. Ошибка хука отклоняет перевод.
type TransferHook func(ctx context.Context, t Transfer) error

// MemoryRail реализует платёжный рельс в памяти для локального запуска и тестов.
type MemoryRail struct {
	mu        sync.Mutex
	treasury  string
	balances  map[string]int64
	failures  map[string]error
	outage    error
	hook      TransferHook
	transfers []Transfer
}

// NewMemoryRail создаёт рельс с пустыми счетами.
func NewMemoryRail(treasury string) *MemoryRail {
	return &MemoryRail{
		treasury: treasury,
		balances: make(map[string]int64),
		failures: make(map[string]error),
	}
}

// Fund зачисляет средства на произвольный счёт.
func (m *MemoryRail) Fund(account string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

// Collect переводит средства со счёта плательщика на казначейский счёт.
func (m *MemoryRail) Collect(_ context.Context, from string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outage != nil {
		return m.outage
	}
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", ErrTransferRejected, amount)
	}
	if m.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d need %d", ErrInsufficientFunds, from, m.balances[from], amount)
	}
	m.balances[from] -= amount
	m.balances[m.treasury] += amount
	return nil
}

// FailCollects заставляет все списания Collect завершаться ошибкой err. nil снимает отказ.
func (m *MemoryRail) FailCollects(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outage = err
}

// FailTransfersTo заставляет все переводы на account завершаться ошибкой err. nil снимает отказ.
func (m *MemoryRail) FailTransfersTo(account string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, account)
		return
	}
	m.failures[account] = err
}

// SetHook устанавливает хук, вызываемый перед каждым переводом.
func (m *MemoryRail) SetHook(h TransferHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Transfer переводит средства с казначейского счёта.
func (m *MemoryRail) Transfer(ctx context.Context, t Transfer) error {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()

	// хук вызывается без блокировки: получатель может обратиться к сервису повторно
	if hook != nil {
		if err := hook(ctx, t); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferRejected, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failures[t.To]; ok {
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", ErrTransferRejected, t.Amount)
	}
	if m.balances[m.treasury] < t.Amount {
		return fmt.Errorf("%w: have %d need %d", ErrInsufficientFunds, m.balances[m.treasury], t.Amount)
	}

	m.balances[m.treasury] -= t.Amount
	m.balances[t.To] += t.Amount
	m.transfers = append(m.transfers, t)
	return nil
}

// Balance возвращает баланс казначейского счёта.
func (m *MemoryRail) Balance(_ context.Context) (int64, error) {
	return m.BalanceOf(m.treasury), nil
}

// BalanceOf возвращает баланс произвольного счёта.
func (m *MemoryRail) BalanceOf(account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

// Transfers возвращает копию журнала исполненных переводов.
func (m *MemoryRail) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.transfers...)
}
