package handlers

import (
	"net/http"

	"recon-server/src/db"
	"recon-server/src/logger"
	"recon-server/src/middleware"

	"github.com/go-chi/chi/v5"
)

// ClearCache drops one cache group: snapshots, rates or all.
func ClearCache() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cacheName := chi.URLParam(r, "cache_name")

		switch cacheName {
		case "snapshots":
			db.ClearAllSnapshotCaches()
		case "rates":
			db.ClearAllRateCaches()
		case "all":
			db.ClearAllCaches()
		default:
			middleware.WriteError(w, http.StatusBadRequest, "invalid cache name")
			return
		}

		log := logger.FromContext(r.Context())
		log.Info().Str("cache", cacheName).Msg("cache cleared")
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"cleared": cacheName})
	}
}
