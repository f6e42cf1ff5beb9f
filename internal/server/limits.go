package server

import (
	"net/http"

	"golang.org/x/time/rate"
)

// admission rejects requests above the configured rate or concurrency.
// A nil limiter or semaphore disables that check.
type admission struct {
	limiter  *rate.Limiter
	inFlight chan struct{}
}

func newAdmission(perSecond float64, burst, maxInFlight int) *admission {
	a := &admission{}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	if maxInFlight > 0 {
		a.inFlight = make(chan struct{}, maxInFlight)
	}
	return a
}

// acquire reports whether the request may proceed. On success the caller
// must call the returned release func.
func (a *admission) acquire() (func(), bool) {
	if a == nil {
		return func() {}, true
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return nil, false
	}
	if a.inFlight == nil {
		return func() {}, true
	}
	select {
	case a.inFlight <- struct{}{}:
		return func() { <-a.inFlight }, true
	default:
		return nil, false
	}
}

func (a *admission) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release, ok := a.acquire()
		if !ok {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		defer release()
		next(w, r)
	}
}
