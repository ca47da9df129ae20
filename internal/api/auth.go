package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// TokenVerifier — проверка выпущенных токенов (internal/auth поверх БД).
type TokenVerifier interface {
	Verify(ctx context.Context, token string) bool
}

// APIKeyAuth принимает ключ из X-API-Key или Authorization: Bearer.
// Сначала пробуем токены из БД, затем статический shared secret из
// конфига (режим без БД). Пустой secret без verifier'а — доступ открыт.
func APIKeyAuth(verifier TokenVerifier, sharedSecret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				const p = "Bearer "
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, p) {
					key = strings.TrimPrefix(auth, p)
				}
			}
			if verifier != nil && key != "" && verifier.Verify(r.Context(), key) {
				next.ServeHTTP(w, r)
				return
			}
			if sharedSecret != "" {
				if subtle.ConstantTimeCompare([]byte(key), []byte(sharedSecret)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			} else if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		})
	}
}
