package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/treeledger/internal/auth"
)

// OperatorAuth проверяет bearer-токен оператора и кладёт его субъект в контекст запроса.
// Право вызывать операторские операции проверяет сервис.
type OperatorAuth struct {
	secretKey []byte
	logger    *zap.Logger
}

// NewOperatorAuth создаёт OperatorAuth с ключом подписи токенов.
func NewOperatorAuth(secret string, logger *zap.Logger) *OperatorAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorAuth{secretKey: []byte(secret), logger: logger}
}

// Middleware отклоняет запросы без действительного токена с ролью оператора.
func (o *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		claims, err := auth.ParseToken(strings.TrimSpace(token), o.secretKey)
		if err != nil {
			o.logger.Debug("operator token rejected", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if claims.Role != auth.RoleOperator {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), claims.Subject)))
	})
}

// WithOperator возвращает контекст с субъектом оператора.
func WithOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, operatorKey, subject)
}

// GetOperatorFromContext извлекает субъект оператора из контекста запроса.
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(operatorKey).(string)
	return subject, ok && subject != ""
}
