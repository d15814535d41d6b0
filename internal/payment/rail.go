// Package payment предоставляет доступ к платёжному рельсу, через который сервис
// принимает платежи пользователей, возвращает переплату и перечисляет средства получателю.
package payment

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrTransferRejected возвращается, если рельс отклонил перевод.
	ErrTransferRejected = errors.New("transfer rejected")
	// ErrInsufficientFunds возвращается, если на счёте отправителя недостаточно средств.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Transfer описывает исходящий перевод с казначейского счёта сервиса.
type Transfer struct {
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Rail описывает внешний платёжный рельс. Collect зачисляет платёж, приложенный к вызову,
// на казначейский счёт; Transfer переводит средства с казначейского счёта.
type Rail interface {
	Collect(ctx context.Context, from string, amount int64) error
	Transfer(ctx context.Context, t Transfer) error
	Balance(ctx context.Context) (int64, error)
}

// UserAccount возвращает адрес счёта пользователя на платёжном рельсе.
func UserAccount(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// OperatorAccount возвращает адрес счёта оператора на платёжном рельсе.
func OperatorAccount(subject string) string {
	return "operator:" + subject
}
