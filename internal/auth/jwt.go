// Package auth выпускает и проверяет токены операторов и решает, кому разрешены операторские операции.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleOperator даёт доступ к операторским операциям.
const RoleOperator = "operator"

var (
	// ErrInvalidToken возвращается для неподписанного, просроченного или испорченного токена.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims содержит утверждения токена оператора.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// GenerateToken выпускает HS256-токен для subject с ролью role.
func GenerateToken(subject, role string, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Role: role,
	})

	signed, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия токена и возвращает его утверждения.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RoleAuthorizer разрешает операторские операции субъектам из списка.
type RoleAuthorizer struct {
	operators map[string]struct{}
}

// NewRoleAuthorizer создаёт RoleAuthorizer для перечисленных субъектов.
func NewRoleAuthorizer(operators ...string) *RoleAuthorizer {
	set := make(map[string]struct{}, len(operators))
	for _, op := range operators {
		if op = strings.TrimSpace(op); op != "" {
			set[op] = struct{}{}
		}
	}
	return &RoleAuthorizer{operators: set}
}

// IsOperator сообщает, может ли actor вызывать операторские операции.
func (a *RoleAuthorizer) IsOperator(actor string) bool {
	if a == nil {
		return false
	}
	_, ok := a.operators[actor]
	return ok
}
