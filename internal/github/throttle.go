package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
)

// LowWaterMark is the remaining-quota level below which requests wait for
// the window to reset.
const LowWaterMark = 10

const (
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"
)

// quota is the last rate-limit state a session observed.
type quota struct {
	mu        sync.Mutex
	remaining int
	known     bool
	reset     time.Time
	hasReset  bool
}

func (q *quota) observe(h http.Header) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if v := h.Get(headerRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.remaining = n
			q.known = true
		}
	}
	if v := h.Get(headerReset); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			q.reset = time.Unix(secs, 0)
			q.hasReset = true
		}
	}
}

// wait returns how long to block before the next request.
func (q *quota) wait(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.known || !q.hasReset || q.remaining >= LowWaterMark {
		return 0
	}
	d := q.reset.Sub(now)
	if d < 0 {
		d = 0
	}
	return d + time.Second
}

func (q *quota) snapshot() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining, q.known
}

// throttle is a RoundTripper that holds requests while the quota is low and
// records the quota headers of every response.
type throttle struct {
	next   http.RoundTripper
	quota  *quota
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	logger *logging.Logger
}

func (t *throttle) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if d := t.quota.wait(t.now()); d > 0 {
		remaining, _ := t.quota.snapshot()
		t.logger.Warn(ctx, "github rate limit low, waiting for reset",
			zap.Int("remaining", remaining),
			zap.Duration("wait", d),
		)
		if err := t.sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	resp, err := t.next.RoundTrip(req)
	if resp != nil {
		t.quota.observe(resp.Header)
	}
	return resp, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
