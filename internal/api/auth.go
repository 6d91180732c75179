package api

import (
	"net/http"
	"strings"

	"github.com/pulseguard/pulseguard/internal/db"
)

// APIKeyAuth guards the management API with keys from the api_keys table.
// Keys arrive as "Authorization: Bearer pg_live_..." or "X-API-Key". While
// no keys exist the API is open: the first key is minted through it.
func APIKeyAuth(store *db.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keys, err := store.ListAPIKeys()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "auth check failed")
				return
			}
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := requestAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			ok, err := store.ValidateAPIKey(key)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "auth check failed")
				return
			}
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
