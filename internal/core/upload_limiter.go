package core

// upload_limiter.go bounds how many files are parsed at once.
//
// Parsing holds a whole file in memory, so the number of in-flight parses
// bounds memory use. When every slot is taken a request queues for at most
// maxWait and then fails with ErrTooManyUploads. Shutdown calls WaitForDrain
// so that parses in progress are allowed to finish.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTooManyUploads is returned when no slot frees up within the wait limit.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

const (
	DefaultMaxConcurrentUploads = 5
	DefaultMaxWaitTime          = 30 * time.Second

	drainPollInterval = 100 * time.Millisecond
)

// UploadLimiter is a counting semaphore over parse slots.
type UploadLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	active   atomic.Int64
	rejected atomic.Int64
}

// NewUploadLimiter allows maxConcurrent parses; waiters give up after maxWait.
// Non-positive arguments fall back to the package defaults.
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &UploadLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot and returns the function that gives it back.
// The release function is safe to call more than once.
func (l *UploadLimiter) Acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return l.releaser(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		l.rejected.Add(1)
		return nil, ErrTooManyUploads
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *UploadLimiter) TryAcquire() (func(), bool) {
	select {
	case l.slots <- struct{}{}:
		return l.releaser(), true
	default:
		return nil, false
	}
}

func (l *UploadLimiter) releaser() func() {
	l.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Add(-1)
			<-l.slots
		})
	}
}

// ActiveCount returns the number of parses holding a slot.
func (l *UploadLimiter) ActiveCount() int { return int(l.active.Load()) }

// MaxConcurrent returns the slot count.
func (l *UploadLimiter) MaxConcurrent() int { return cap(l.slots) }

// Available returns the number of free slots.
func (l *UploadLimiter) Available() int { return cap(l.slots) - len(l.slots) }

// WaitForDrain blocks until no slot is held or ctx is done.
func (l *UploadLimiter) WaitForDrain(ctx context.Context) error {
	if l.ActiveCount() == 0 {
		return nil
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// UploadLimiterStatus is a point-in-time view of the limiter.
type UploadLimiterStatus struct {
	Active        int   `json:"active"`
	Available     int   `json:"available"`
	MaxConcurrent int   `json:"maxConcurrent"`
	Rejected      int64 `json:"rejected"`
}

// Status returns the limiter state for the status endpoint.
func (l *UploadLimiter) Status() UploadLimiterStatus {
	return UploadLimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
		Rejected:      l.rejected.Load(),
	}
}
