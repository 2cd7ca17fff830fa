package server

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/middleware"
)

// GroupCache is the provider-side group id cache.
type GroupCache interface {
	PurgeGroupCache() int
}

type cacheRefreshResponse struct {
	Status    string `json:"status"`
	Purged    int    `json:"purged"`
	Timestamp int64  `json:"timestamp"`
}

// HandleCacheRefresh handles POST /admin/cache/refresh
// Drops cached group ids so renamed or recreated groups are looked up again.
func HandleCacheRefresh(cache GroupCache, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purged := cache.PurgeGroupCache()

		actor := ""
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			actor = claims.Subject
		}
		log.WithFields(logrus.Fields{"actor": actor, "purged": purged}).Info("group cache refresh triggered")

		middleware.WriteJSON(w, http.StatusOK, cacheRefreshResponse{
			Status:    "success",
			Purged:    purged,
			Timestamp: time.Now().Unix(),
		})
	}
}
