package auth

import (
	"math"
	"time"

	"github.com/datapult/datapult/internal/models"
)

// Lockout defaults applied when configuration leaves them unset.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutCooldown  = 30 * time.Minute
)

// LockoutPolicy evaluates a user's failure counters against an explicit
// "now". It only mutates the in-memory snapshot; persisting the updated
// fields is the caller's job. No background process expires locks: the
// state self-clears lazily on the next evaluation.
type LockoutPolicy struct {
	Threshold int
	Cooldown  time.Duration
}

// NewLockoutPolicy builds a policy, falling back to defaults for
// non-positive values.
func NewLockoutPolicy(threshold int, cooldown time.Duration) LockoutPolicy {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultLockoutCooldown
	}
	return LockoutPolicy{Threshold: threshold, Cooldown: cooldown}
}

// IsLocked reports whether the user's lock window is still open.
func (p LockoutPolicy) IsLocked(user *models.User, now time.Time) bool {
	return user.LockedUntil != nil && user.LockedUntil.After(now)
}

// Remaining returns how long the current lock window still has to run.
func (p LockoutPolicy) Remaining(user *models.User, now time.Time) time.Duration {
	if !p.IsLocked(user, now) {
		return 0
	}
	return user.LockedUntil.Sub(now)
}

// RemainingMinutes is Remaining rounded up to whole minutes, the unit
// surfaced in lock rejection messages.
func (p LockoutPolicy) RemainingMinutes(user *models.User, now time.Time) int {
	return int(math.Ceil(p.Remaining(user, now).Minutes()))
}

// ClearExpiredLock resets the counters when a previous lock window has
// elapsed. Returns true when the snapshot changed and needs persisting.
func (p LockoutPolicy) ClearExpiredLock(user *models.User, now time.Time) bool {
	if user.LockedUntil == nil || user.LockedUntil.After(now) {
		return false
	}
	user.LockedUntil = nil
	user.FailedLoginAttempts = 0
	return true
}

// OnFailure records a failed attempt, locking the account once the counter
// reaches the threshold. Callers must not invoke this while the account is
// locked; the login flow rejects locked attempts before the password check
// so repeated attempts cannot extend the window.
func (p LockoutPolicy) OnFailure(user *models.User, now time.Time) {
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= p.Threshold {
		lockedUntil := now.Add(p.Cooldown)
		user.LockedUntil = &lockedUntil
	}
}

// OnSuccess resets the counters and stamps the login time.
func (p LockoutPolicy) OnSuccess(user *models.User, now time.Time) {
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	lastLogin := now
	user.LastLogin = &lastLogin
}
