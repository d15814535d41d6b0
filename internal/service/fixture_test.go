package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/treeledger/internal/auth"
	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
	"github.com/mmeshcher/treeledger/internal/repository"
)

const (
	testOperator    = "op"
	testTreasury    = "treasury"
	testBeneficiary = "beneficiary"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testProtocol() model.ProtocolState {
	return model.ProtocolState{
		Config: model.ProtocolConfig{
			Cooldown:              24 * time.Hour,
			MinPurchaseUnitPrice:  1000,
			PremiumTreePrice:      500,
			PointsPerWater:        10,
			StreakBonusPerDay:     5,
			MaxStreakBonusDays:    7,
			PointsPerRedeemedTree: 500,
			Beneficiary:           testBeneficiary,
		},
	}
}

type fixture struct {
	svc   *Service
	repo  *repository.MemoryRepository
	rail  *payment.MemoryRail
	clock *fakeClock

	mu     sync.Mutex
	events []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.EnsureProtocol(context.Background(), testProtocol()))

	f := &fixture{
		repo:  repo,
		rail:  payment.NewMemoryRail(testTreasury),
		clock: &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}

	emitter := events.NewEmitter(zap.NewNop())
	emitter.SubscribeAll(func(ev events.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})

	f.svc = NewService(repo, f.rail, auth.NewRoleAuthorizer(testOperator),
		WithClock(f.clock.Now),
		WithEmitter(emitter),
	)
	return f
}

// pay пополняет платёжный счёт пользователя; сервис сам списывает платёж при покупке.
func (f *fixture) pay(t *testing.T, userID, amount int64) {
	t.Helper()
	f.rail.Fund(payment.UserAccount(userID), amount)
}

func (f *fixture) eventTypes() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := make([]events.Type, 0, len(f.events))
	for _, ev := range f.events {
		res = append(res, ev.Type)
	}
	return res
}

func (f *fixture) lastEvent(t *testing.T) events.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.events)
	return f.events[len(f.events)-1]
}
