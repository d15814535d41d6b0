package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/treeledger/internal/auth"
)

func TestOperatorAuth(t *testing.T) {
	secret := "op-secret"
	m := NewOperatorAuth(secret, nil)

	valid, err := auth.GenerateToken("alice", auth.RoleOperator, []byte(secret), time.Minute)
	require.NoError(t, err)
	wrongRole, err := auth.GenerateToken("alice", "viewer", []byte(secret), time.Minute)
	require.NoError(t, err)
	wrongKey, err := auth.GenerateToken("alice", auth.RoleOperator, []byte("other"), time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + valid, wantStatus: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + wrongKey, wantStatus: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + wrongRole, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				subject, _ = GetOperatorFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			r := httptest.NewRequest(http.MethodPost, "/api/operator/pause", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			m.Middleware(next).ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "alice", subject)
			}
		})
	}
}
