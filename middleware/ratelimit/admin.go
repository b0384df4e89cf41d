package ratelimit

import (
	"encoding/json"
	"net/http"

	"storefront-gateway/middleware/ratelimit/domain"

	"github.com/gorilla/mux"
)

// StatsHandler expõe TenantStats do tenant da rota ({tenant}) em JSON.
func StatsHandler(lim domain.TenantLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := mux.Vars(r)["tenant"]
		if tenant == "" {
			http.Error(w, "tenant is required", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(lim.TenantStats(tenant))
	})
}
