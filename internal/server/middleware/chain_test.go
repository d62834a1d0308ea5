package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/a-essam23/go-relay/internal/server/middleware"
	"github.com/a-essam23/go-relay/internal/testutil"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "test-secret"

// subjectHandler echoes the resolved subject.
var subjectHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	meta, _ := middleware.ReqMetadataFrom(r.Context())
	w.Write([]byte(meta.UserID))
})

func sign(t *testing.T, key string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := middleware.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mark("first"), mark("second"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "handler" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestAuthMiddleware(t *testing.T) {
	valid := sign(t, secret, jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})

	tests := []struct {
		name    string
		secret  string
		prepare func(r *http.Request)
		status  int
		subject string
	}{
		{"disabled uses query subject", "", func(r *http.Request) { r.URL.RawQuery = "userId=alice" }, http.StatusOK, "alice"},
		{"disabled falls back to ip", "", func(r *http.Request) {}, http.StatusOK, "192.0.2.1"},
		{"bearer header", secret, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, http.StatusOK, "u1"},
		{"session cookie", secret, func(r *http.Request) { r.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: valid}) }, http.StatusOK, "u1"},
		{"missing token", secret, func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"wrong key", secret, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+sign(t, "other", jwt.RegisteredClaims{Subject: "u1"}))
		}, http.StatusUnauthorized, ""},
		{"expired", secret, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}))
		}, http.StatusUnauthorized, ""},
		{"no subject", secret, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.RegisteredClaims{}))
		}, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := middleware.Chain(subjectHandler,
				middleware.RequestMetadataMiddleware(),
				middleware.NewAuthMiddleware(testutil.NewLogger(t), tt.secret),
			)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.prepare(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && w.Body.String() != tt.subject {
				t.Fatalf("expected subject %q, got %q", tt.subject, w.Body.String())
			}
		})
	}
}

func TestConnectionLimiter(t *testing.T) {
	counts := map[string]int{"busy": 2, "free": 1}
	var cycled []string
	build := func(t *testing.T, mode string) http.Handler {
		return middleware.Chain(subjectHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewAuthMiddleware(testutil.NewLogger(t), ""),
			middleware.NewConnectionLimiter(testutil.NewLogger(t),
				func(userID string) int { return counts[userID] },
				func(userID string) { cycled = append(cycled, userID) },
				config.ConnectionLimitConfig{MaxPerUser: 2, Mode: mode},
			),
		)
	}
	serve := func(h http.Handler, user string) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?userId="+user, nil))
		return w.Code
	}

	reject := build(t, config.LimitModeReject)
	if got := serve(reject, "free"); got != http.StatusOK {
		t.Fatalf("expected free user admitted, got %d", got)
	}
	if got := serve(reject, "busy"); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for busy user, got %d", got)
	}

	cycle := build(t, config.LimitModeCycle)
	if got := serve(cycle, "busy"); got != http.StatusOK {
		t.Fatalf("expected busy user admitted after cycling, got %d", got)
	}
	if len(cycled) != 1 || cycled[0] != "busy" {
		t.Fatalf("expected busy user's oldest connection cycled, got %v", cycled)
	}

	if got := serve(build(t, "bogus"), "busy"); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for invalid mode, got %d", got)
	}
}
