package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter bounds concurrent request processing with a weighted
// semaphore. LLM calls and firmware flashes hold slots for a long time, so
// the limit keeps a burst of chat requests from starving the box.
type ConcurrencyLimiter struct {
	sem           *semaphore.Weighted
	maxConcurrent int64
	timeout       time.Duration
	activeCount   int64
	totalReqs     int64
	rejectedReqs  int64
}

const maxSlotWait = 60 * time.Second

func NewConcurrencyLimiter(maxConcurrent int, timeout time.Duration) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &ConcurrencyLimiter{
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: int64(maxConcurrent),
		timeout:       timeout,
	}
}

func (cl *ConcurrencyLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&cl.totalReqs, 1)

		waitTimeout := maxSlotWait
		if cl.timeout < waitTimeout {
			waitTimeout = cl.timeout
		}

		waitCtx, cancelWait := context.WithTimeout(r.Context(), waitTimeout)
		defer cancelWait()

		acquireStart := time.Now()
		if err := cl.sem.Acquire(waitCtx, 1); err != nil {
			atomic.AddInt64(&cl.rejectedReqs, 1)
			slog.Warn("并发限制: 等待超时",
				"duration", time.Since(acquireStart),
				"total_rejected", atomic.LoadInt64(&cl.rejectedReqs))
			http.Error(w, "服务器繁忙，请稍后重试", http.StatusServiceUnavailable)
			return
		}

		atomic.AddInt64(&cl.activeCount, 1)
		defer func() {
			cl.sem.Release(1)
			atomic.AddInt64(&cl.activeCount, -1)
		}()

		execCtx, cancelExec := context.WithTimeout(r.Context(), cl.timeout)
		defer cancelExec()

		next.ServeHTTP(w, r.WithContext(execCtx))
	}
}

// Active reports the number of requests currently holding a slot.
func (cl *ConcurrencyLimiter) Active() int64 {
	return atomic.LoadInt64(&cl.activeCount)
}
