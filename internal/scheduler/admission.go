package scheduler

import (
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// ProviderAdmission gates dispatch to the one configured translation backend:
// a rolling daily quota counter paired with a circuit breaker that trips on
// repeated failures, mirroring spec's "request buffer plus breaker" pairing
// for C9. A process runs against a single service_type at a time, so one
// instance per Scheduler is enough.
type ProviderAdmission struct {
	mu       sync.Mutex
	quota    int // 0 means unbounded
	buffer   int
	used     int
	dayStart time.Time

	breaker circuitbreaker.CircuitBreaker[any]
}

func NewProviderAdmission(dailyQuota, quotaBuffer, breakerThreshold int, breakerCooldown time.Duration) *ProviderAdmission {
	if breakerThreshold <= 0 {
		breakerThreshold = 1
	}
	breaker := circuitbreaker.Builder[any]().
		WithFailureThreshold(uint(breakerThreshold)).
		WithDelay(breakerCooldown).
		Build()
	return &ProviderAdmission{
		quota:    dailyQuota,
		buffer:   quotaBuffer,
		dayStart: time.Now(),
		breaker:  breaker,
	}
}

// Allow reports whether a dispatch attempt may proceed: the breaker is not
// open, and the rolling daily quota minus its safety buffer has not been
// exhausted.
func (a *ProviderAdmission) Allow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()

	if a.breaker.IsOpen() {
		return false
	}
	if a.quota > 0 && a.used >= a.quota-a.buffer {
		return false
	}
	return true
}

// Record registers the outcome of a dispatch attempt made after Allow
// returned true: nil counts as a breaker success, non-nil as a failure, and
// either way counts one unit against the daily quota.
func (a *ProviderAdmission) Record(err error) {
	a.mu.Lock()
	a.used++
	a.mu.Unlock()

	if err != nil {
		a.breaker.RecordFailure()
	} else {
		a.breaker.RecordSuccess()
	}
}

func (a *ProviderAdmission) rolloverLocked() {
	if time.Since(a.dayStart) >= 24*time.Hour {
		a.used = 0
		a.dayStart = time.Now()
	}
}
