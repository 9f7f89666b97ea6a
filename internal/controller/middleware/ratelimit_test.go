package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	return req
}

func TestRateLimiter_AllowsRequestUnderLimit(t *testing.T) {
	handler := NewRateLimiter(100).Middleware()(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request("10.0.0.1:5000"))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimiter_BlocksOverBurst(t *testing.T) {
	handler := NewRateLimiter(1, WithBurst(2)).Middleware()(okHandler())

	var codes []int
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, request("10.0.0.1:5000"))
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("expected burst of 2 to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected third request to be limited, got %d", codes[2])
	}
}

func TestRateLimiter_SeparateClients(t *testing.T) {
	handler := NewRateLimiter(1, WithBurst(1)).Middleware()(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, request("10.0.0.1:5000"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, request("10.0.0.2:5000"))

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Errorf("expected each client to get its own budget, got %d and %d", first.Code, second.Code)
	}

	again := httptest.NewRecorder()
	handler.ServeHTTP(again, request("10.0.0.1:6000"))
	if again.Code != http.StatusTooManyRequests {
		t.Errorf("expected the same host on another port to share a budget, got %d", again.Code)
	}
	if again.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After header")
	}
}

func TestRateLimiter_Unlimited(t *testing.T) {
	handler := NewRateLimiter(0).Middleware()(okHandler())

	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, request("10.0.0.1:5000"))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d limited with rate 0", i)
		}
	}
}

func TestRateLimiter_ExpiredLimiterIsReplaced(t *testing.T) {
	current := time.Now()
	rl := NewRateLimiter(1, WithBurst(1), WithTTL(time.Minute))
	rl.now = func() time.Time { return current }

	first := rl.limiterFor("a")
	if rl.limiterFor("a") != first {
		t.Error("expected cached limiter before expiry")
	}

	current = current.Add(2 * time.Minute)
	if rl.limiterFor("a") == first {
		t.Error("expected a fresh limiter after expiry")
	}
}
