// Package validation содержит функции валидации входных данных.
package validation

import (
	"strconv"
	"unicode"
	"unicode/utf8"
)

const (
	maxLoginLen   = 64
	maxRefLen     = 512
	maxAccountLen = 128
)

// ParseID разбирает положительный десятичный идентификатор из параметра URL.
func ParseID(s string) (int64, bool) {
	if s == "" || len(s) > 19 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// IsValidLogin проверяет логин: от 3 до 64 печатных символов без пробелов.
func IsValidLogin(login string) bool {
	n := utf8.RuneCountInString(login)
	if n < 3 || n > maxLoginLen || !utf8.ValidString(login) {
		return false
	}
	for _, r := range login {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// IsValidReference проверяет ссылку на метаданные или внешний реестр:
// непустая строка до 512 байт без управляющих символов.
func IsValidReference(ref string) bool {
	if ref == "" || len(ref) > maxRefLen || !utf8.ValidString(ref) {
		return false
	}
	for _, r := range ref {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// IsValidAccount проверяет адрес счёта на платёжном рельсе: до 128 байт без пробелов.
func IsValidAccount(addr string) bool {
	if addr == "" || len(addr) > maxAccountLen || !utf8.ValidString(addr) {
		return false
	}
	for _, r := range addr {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
