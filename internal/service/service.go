// Package service реализует бизнес-логику сервиса treeledger: игровой реестр лояльности
// и конечный автомат покупок реальных деревьев с выпуском сертификатов.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
	"github.com/mmeshcher/treeledger/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	WithinTx(ctx context.Context, fn func(repository.Tx) error) error

	GetProtocol(ctx context.Context) (*model.ProtocolState, error)
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)
	CountPurchasesByUser(ctx context.Context, userID int64) (int64, error)
	GetPurchase(ctx context.Context, id int64) (*model.Purchase, error)
	GetPurchasesByUser(ctx context.Context, userID int64) ([]model.Purchase, error)
	GetPendingPurchases(ctx context.Context, afterID int64, limit int) ([]model.Purchase, error)
	GetCertificate(ctx context.Context, id int64) (*model.Certificate, error)
	GetCertificatesByOwner(ctx context.Context, ownerID int64) ([]model.Certificate, error)
}

// Authorizer решает, разрешены ли вызывающему операторские операции.
type Authorizer interface {
	IsOperator(actor string) bool
}

// Service содержит бизнес-логику сервиса treeledger.
type Service struct {
	repo    Repository
	rail    payment.Rail
	authz   Authorizer
	emitter *events.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEmitter задаёт получателя событий об изменениях.
func WithEmitter(e *events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithLogger задаёт логгер сервиса.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService создаёт новый сервис с указанным репозиторием, платёжным рельсом и проверкой ролей.
func NewService(repo Repository, rail payment.Rail, authz Authorizer, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		rail:   rail,
		authz:  authz,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	salt := sha256.Sum256([]byte("treeledger:" + login))
	return argon2.IDKey([]byte(password), salt[:16], 1, 64*1024, 4, 32)
}

type callKey struct{}

// enter помечает контекст мутирующей операции. Повторный вход с уже
// помеченным контекстом (например, из получателя исходящего перевода) отклоняется.
func enter(ctx context.Context) (context.Context, error) {
	if ctx.Value(callKey{}) != nil {
		return ctx, ErrReentrantCall
	}
	return context.WithValue(ctx, callKey{}, struct{}{}), nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Service) authorize(actor string) error {
	if s.authz == nil || !s.authz.IsOperator(actor) {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) emit(ev events.Event) {
	s.emitter.Emit(ev)
}

// transfer исполняет исходящий перевод. Ошибка рельса откатывает всю операцию.
func (s *Service) transfer(ctx context.Context, t payment.Transfer) error {
	if err := s.rail.Transfer(ctx, t); err != nil {
		s.logger.Warn("outbound transfer failed",
			zap.String("to", t.To),
			zap.Int64("amount", t.Amount),
			zap.String("reference", t.Reference),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// collect зачисляет платёж, приложенный к вызову, на казначейский счёт.
// Нехватка средств у плательщика даёт ErrInsufficientPayment, прочие отказы рельса
// возвращаются как внутренняя ошибка.
func (s *Service) collect(ctx context.Context, userID, amount int64) error {
	err := s.rail.Collect(ctx, payment.UserAccount(userID), amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payment.ErrInsufficientFunds):
		return fmt.Errorf("%w: %w", ErrInsufficientPayment, err)
	default:
		s.logger.Error("payment collect failed",
			zap.Int64("user_id", userID),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
		return fmt.Errorf("collect payment: %w", err)
	}
}

// giveBack возвращает плательщику ещё не возвращённую часть платежа после отката операции.
// Если возврат не удался, средства остаются в казне и забираются через Sweep.
func (s *Service) giveBack(ctx context.Context, userID, amount int64) {
	if amount <= 0 {
		return
	}
	t := payment.Transfer{To: payment.UserAccount(userID), Amount: amount, Reference: "payment-return"}
	if err := s.rail.Transfer(context.WithoutCancel(ctx), t); err != nil {
		s.logger.Error("payment return failed, funds left in treasury",
			zap.Int64("user_id", userID),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
	}
}

// activeProtocol читает состояние протокола и отклоняет вызов на паузе.
func activeProtocol(ctx context.Context, tx repository.Tx, lock bool) (*model.ProtocolState, error) {
	var (
		state *model.ProtocolState
		err   error
	)
	if lock {
		state, err = tx.LockProtocol(ctx)
	} else {
		state, err = tx.Protocol(ctx)
	}
	if err != nil {
		return nil, err
	}
	if state.Paused {
		return nil, ErrPaused
	}
	return state, nil
}

func userActor(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
