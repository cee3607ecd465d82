// Package auth tracks failed access-password attempts per client and locks
// out clients that keep guessing.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Lockout policy:
//   - 10 consecutive failures lock the client for 1 hour
//   - 50 failures in a UTC day lock the client for the rest of that day
const (
	MaxConsecutiveFailures = 10
	ConsecutiveLockout     = time.Hour
	MaxDailyFailures       = 50
)

// LockedError describes an active lockout.
type LockedError struct {
	Reason    string
	UnlocksAt time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s; retry after %s", e.Reason, e.UnlocksAt.UTC().Format(time.RFC3339))
}

// RetryAfter returns the remaining lockout, rounded up to whole seconds.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	d := e.UnlocksAt.Sub(now)
	if d <= 0 {
		return 0
	}
	if d%time.Second != 0 {
		d = d.Truncate(time.Second) + time.Second
	}
	return d
}

type clientState struct {
	consecutive int
	// firstFailure is when the current consecutive streak started.
	firstFailure time.Time
	day          time.Time
	dailyFails   int
}

// LoginLimiter is an in-memory failure counter keyed by client IP. Safe for
// concurrent use. State is lost on restart.
type LoginLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientState
	now     func() time.Time
}

// NewLoginLimiter creates an empty LoginLimiter.
func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{clients: map[string]*clientState{}, now: time.Now}
}

// CheckAllowed returns nil if ip may attempt a login, or a *LockedError.
func (ll *LoginLimiter) CheckAllowed(ip string) error {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	st, ok := ll.clients[ip]
	if !ok {
		return nil
	}
	now := ll.now().UTC()
	today := startOfDay(now)

	if st.day.Equal(today) && st.dailyFails >= MaxDailyFailures {
		return &LockedError{Reason: "too many failed attempts today", UnlocksAt: today.Add(24 * time.Hour)}
	}
	if st.consecutive >= MaxConsecutiveFailures {
		unlock := st.firstFailure.Add(ConsecutiveLockout)
		if now.Before(unlock) {
			return &LockedError{Reason: "too many consecutive failed attempts", UnlocksAt: unlock}
		}
	}
	return nil
}

// RecordAttempt records a login attempt. A success clears the consecutive
// streak but not the daily count.
func (ll *LoginLimiter) RecordAttempt(ip string, success bool) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	now := ll.now().UTC()
	st, ok := ll.clients[ip]
	if !ok {
		if success {
			return
		}
		st = &clientState{}
		ll.clients[ip] = st
	}

	if success {
		st.consecutive = 0
		st.firstFailure = time.Time{}
		return
	}

	if today := startOfDay(now); !st.day.Equal(today) {
		st.day = today
		st.dailyFails = 0
	}
	st.dailyFails++

	// a streak that already served its lockout starts over
	if st.consecutive >= MaxConsecutiveFailures && !now.Before(st.firstFailure.Add(ConsecutiveLockout)) {
		st.consecutive = 0
	}
	if st.consecutive == 0 {
		st.firstFailure = now
	}
	st.consecutive++
}

// CleanOld forgets clients with no failures today and no active streak.
func (ll *LoginLimiter) CleanOld() int {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	now := ll.now().UTC()
	today := startOfDay(now)
	removed := 0
	for ip, st := range ll.clients {
		streakActive := st.consecutive > 0 && now.Before(st.firstFailure.Add(ConsecutiveLockout))
		if !st.day.Equal(today) && !streakActive {
			delete(ll.clients, ip)
			removed++
		}
	}
	return removed
}

// BanEntry describes an active lockout for display.
type BanEntry struct {
	IP        string    `json:"ip"`
	FailCount int       `json:"fail_count"`
	Reason    string    `json:"reason"`
	UnlocksAt time.Time `json:"unlocks_at"`
}

// ListBans returns every client currently locked out.
func (ll *LoginLimiter) ListBans() []BanEntry {
	ll.mu.Lock()
	ips := make([]string, 0, len(ll.clients))
	counts := make(map[string]int, len(ll.clients))
	for ip, st := range ll.clients {
		ips = append(ips, ip)
		counts[ip] = st.dailyFails
	}
	ll.mu.Unlock()

	sort.Strings(ips)

	var bans []BanEntry
	for _, ip := range ips {
		var locked *LockedError
		if !errors.As(ll.CheckAllowed(ip), &locked) {
			continue
		}
		bans = append(bans, BanEntry{IP: ip, FailCount: counts[ip], Reason: locked.Reason, UnlocksAt: locked.UnlocksAt})
	}
	return bans
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
