// Package repository содержит хранилища данных сервиса treeledger: PostgreSQL и in-memory.
package repository

import (
	"context"
	"errors"

	"github.com/mmeshcher/treeledger/internal/model"
)

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotFound возвращается, если покупка или сертификат не найдены.
	ErrNotFound = errors.New("record not found")
	// ErrProtocolNotInitialized возвращается, если параметры протокола ещё не записаны в хранилище.
	ErrProtocolNotInitialized = errors.New("protocol state not initialized")
)

// Имена счётчиков идентификаторов. Счётчик откатывается вместе с транзакцией.
const (
	SequencePurchase    = "purchase"
	SequenceCertificate = "certificate"
)

// Tx представляет единицу работы над хранилищем. Все изменения, сделанные через Tx,
// применяются целиком при успешном завершении функции, переданной в WithinTx,
// и отбрасываются целиком при ошибке.
//
// Порядок захвата блокировок внутри транзакции фиксирован:
// протокол → аккаунт → покупка → счётчики.
type Tx interface {
	Protocol(ctx context.Context) (*model.ProtocolState, error)
	LockProtocol(ctx context.Context) (*model.ProtocolState, error)
	SaveProtocol(ctx context.Context, state *model.ProtocolState) error

	LockAccount(ctx context.Context, userID int64) (*model.Account, error)
	SaveAccount(ctx context.Context, acct *model.Account) error
	CountPurchasesByUser(ctx context.Context, userID int64) (int64, error)

	NextID(ctx context.Context, sequence string) (int64, error)
	InsertPurchase(ctx context.Context, p *model.Purchase) error
	LockPurchase(ctx context.Context, id int64) (*model.Purchase, error)
	SavePurchase(ctx context.Context, p *model.Purchase) error
	InsertCertificate(ctx context.Context, c *model.Certificate) error
}
