// Package events содержит уведомления об изменениях реестра и их доставку подписчикам.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type обозначает вид изменения.
type Type string

const (
	TreeClaimed        Type = "tree_claimed"
	TreeWatered        Type = "tree_watered"
	PointsRedeemed     Type = "points_redeemed"
	PremiumPurchased   Type = "premium_purchased"
	RealAssetPurchased Type = "real_asset_purchased"
	PurchaseProcessed  Type = "purchase_processed"
	CertificateIssued  Type = "certificate_issued"
	ConfigUpdated      Type = "config_updated"
	Paused             Type = "paused"
	Unpaused           Type = "unpaused"
	FundsSwept         Type = "funds_swept"
)

// Event описывает структурированное уведомление, публикуемое после фиксации изменения.
type Event struct {
	Seq       uint64         `json:"seq,omitempty"`
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Actor     string         `json:"actor"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// New создаёт событие с новым идентификатором.
func New(typ Type, actor string, at time.Time, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Actor:     actor,
		Data:      data,
		Timestamp: at,
	}
}

// Handler вызывается для каждого подходящего события.
type Handler func(Event)

// Emitter реализует синхронный pub/sub. Подписка выполняется до начала публикации.
type Emitter struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewEmitter создаёт Emitter без подписчиков.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		logger:   logger,
		handlers: make(map[Type][]Handler),
	}
}

// Subscribe регистрирует h для событий типа typ.
func (e *Emitter) Subscribe(typ Type, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll регистрирует h для событий любого типа.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit доставляет ev всем подписчикам. Паника подписчика не прерывает доставку остальным.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}

	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.all)+len(e.handlers[ev.Type]))
	handlers = append(handlers, e.all...)
	handlers = append(handlers, e.handlers[ev.Type]...)
	e.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("event handler panicked", zap.String("type", string(ev.Type)), zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}

// LogHandler возвращает подписчика, записывающего каждое событие в лог.
func LogHandler(logger *zap.Logger) Handler {
	return func(ev Event) {
		logger.Info("ledger event",
			zap.String("id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.String("actor", ev.Actor),
			zap.Time("timestamp", ev.Timestamp),
			zap.Any("data", ev.Data),
		)
	}
}
