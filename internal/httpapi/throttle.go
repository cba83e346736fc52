package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// throttle admits at most limit attempts per key in each fixed window.
type throttle struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]attemptWindow
}

type attemptWindow struct {
	count   int
	resetAt time.Time
}

// sweepAbove bounds the key map before expired windows are dropped.
const sweepAbove = 1024

func newThrottle(limit int, window time.Duration) *throttle {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &throttle{limit: limit, window: window, now: time.Now, windows: make(map[string]attemptWindow)}
}

func (t *throttle) admit(key string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.windows) > sweepAbove {
		for k, w := range t.windows {
			if !now.Before(w.resetAt) {
				delete(t.windows, k)
			}
		}
	}
	w := t.windows[key]
	if !now.Before(w.resetAt) {
		w = attemptWindow{resetAt: now.Add(t.window)}
	}
	if w.count >= t.limit {
		t.windows[key] = w
		return false
	}
	w.count++
	t.windows[key] = w
	return true
}

// remoteHost keys throttles by the caller's address without its port.
func remoteHost(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
