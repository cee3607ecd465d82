package handler

import (
	"net/http"

	"slidegen/internal/auth"
)

// HandleListBans returns the clients currently locked out of the access
// password. A nil limiter reports none.
func HandleListBans(limiter *auth.LoginLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bans := []auth.BanEntry{}
		if limiter != nil {
			if list := limiter.ListBans(); list != nil {
				bans = list
			}
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"bans": bans})
	}
}
