package service

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/treeledger/internal/repository"
)

// Категории ошибок. Каждая конкретная ошибка оборачивает ровно одну категорию,
// поэтому вызывающий код может проверять и категорию, и конкретную причину через errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrStateConflict = errors.New("state conflict")
	ErrPayment       = errors.New("payment failed")
	ErrAuthorization = errors.New("not authorized")
)

var (
	// ErrPaused возвращается пользовательскими операциями, пока реестр приостановлен.
	ErrPaused = errors.New("ledger is paused")
	// ErrNotFound возвращается, если покупка или сертификат не существуют.
	ErrNotFound = repository.ErrNotFound
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	ErrZeroQuantity       = fmt.Errorf("%w: quantity must be positive", ErrValidation)
	ErrQuantityOutOfRange = fmt.Errorf("%w: quantity out of range", ErrValidation)
	ErrInvalidReference   = fmt.Errorf("%w: invalid species or project id", ErrValidation)
	ErrInvalidParameter   = fmt.Errorf("%w: invalid protocol parameter", ErrValidation)
)

var (
	ErrAlreadyClaimed     = fmt.Errorf("%w: free tree already claimed", ErrStateConflict)
	ErrCooldownActive     = fmt.Errorf("%w: cooldown still active", ErrStateConflict)
	ErrNoTreesOwned       = fmt.Errorf("%w: no trees owned", ErrStateConflict)
	ErrInsufficientPoints = fmt.Errorf("%w: insufficient points", ErrStateConflict)
	ErrAlreadyProcessed   = fmt.Errorf("%w: purchase already processed", ErrStateConflict)
	ErrNotYetProcessed    = fmt.Errorf("%w: purchase not yet processed", ErrStateConflict)
	ErrAlreadyCertified   = fmt.Errorf("%w: purchase already certified", ErrStateConflict)
	ErrNothingToSweep     = fmt.Errorf("%w: treasury balance is zero", ErrStateConflict)
	ErrReentrantCall      = fmt.Errorf("%w: reentrant call", ErrStateConflict)
)

var (
	ErrInsufficientPayment = fmt.Errorf("%w: insufficient payment", ErrPayment)
	ErrBelowMinimum        = fmt.Errorf("%w: payment below minimum unit price", ErrPayment)
	ErrTransferFailed      = fmt.Errorf("%w: outbound transfer failed", ErrPayment)
)

// ErrUnauthorized возвращается операторскими операциями для вызывающего без роли оператора.
var ErrUnauthorized = fmt.Errorf("%w: operator role required", ErrAuthorization)
