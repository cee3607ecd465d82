package middleware

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"slidegen/internal/auth"
)

// AccessGuard requires HTTP basic auth whose password matches the bcrypt
// hash. Any user name is accepted. An empty hash disables the guard.
// When limiter is non-nil, wrong passwords count against the client IP and
// locked-out clients get 429 before the password is checked.
func AccessGuard(passwordHash string, limiter *auth.LoginLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if passwordHash == "" {
			return next
		}
		hash := []byte(passwordHash)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if limiter != nil {
				var locked *auth.LockedError
				if err := limiter.CheckAllowed(ip); errors.As(err, &locked) {
					secs := int(locked.RetryAfter(time.Now()) / time.Second)
					w.Header().Set("Retry-After", strconv.Itoa(secs))
					writeJSONError(w, http.StatusTooManyRequests, err.Error())
					return
				}
			}

			_, password, ok := r.BasicAuth()
			if !ok {
				challenge(w)
				return
			}
			if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
				if limiter != nil {
					limiter.RecordAttempt(ip, false)
				}
				challenge(w)
				return
			}
			if limiter != nil {
				limiter.RecordAttempt(ip, true)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="slidegen", charset="UTF-8"`)
	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// clientIP is the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
