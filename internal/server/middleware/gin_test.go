package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-essam23/go-relay/internal/cid"
	"github.com/a-essam23/go-relay/internal/server/middleware"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCorrelationIDAddsHeader(t *testing.T) {
	router := gin.New()
	router.Use(middleware.CorrelationID())
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = cid.FromContext(c.Request.Context())
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	id := w.Header().Get(cid.HeaderName)
	if id == "" {
		t.Fatalf("expected response to include header %s, but it was empty", cid.HeaderName)
	}
	if _, err := ksuid.Parse(id); err != nil {
		t.Fatalf("expected %s to be a valid ksuid, got parse error: %v", id, err)
	}
	if seen != id {
		t.Fatalf("expected handler context to carry %s, got %q", id, seen)
	}
}

func TestCorrelationIDPreservesExistingHeader(t *testing.T) {
	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.GET("/echo", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	incoming := ksuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Set(cid.HeaderName, incoming)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(cid.HeaderName); got != incoming {
		t.Fatalf("expected middleware to preserve incoming CID %s, got %s", incoming, got)
	}
}

func installExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exp
}

func TestTracingStartsSpan(t *testing.T) {
	exp := installExporter(t)

	router := gin.New()
	router.Use(middleware.Tracing())
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatalf("expected spans to be recorded, got 0")
	}
	foundMethod, foundTarget := false, false
	for _, s := range spans {
		for _, attr := range s.Attributes {
			if attr.Key == "http.method" && attr.Value.AsString() == "GET" {
				foundMethod = true
			}
			if attr.Key == "http.target" && attr.Value.AsString() == "/test" {
				foundTarget = true
			}
		}
	}
	if !foundMethod || !foundTarget {
		t.Fatalf("expected http.method and http.target attributes on spans; got method=%v target=%v", foundMethod, foundTarget)
	}
}

func TestTracingSetsCIDAttribute(t *testing.T) {
	exp := installExporter(t)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(cid.WithCID(context.Background(), "test-cid-123"))
		c.Next()
	})
	router.Use(middleware.Tracing())
	router.GET("/testcid", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/testcid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	for _, s := range exp.GetSpans() {
		for _, attr := range s.Attributes {
			if attr.Key == cid.AttributeName && attr.Value.AsString() == "test-cid-123" {
				return
			}
		}
	}
	t.Fatalf("expected %s attribute on spans; not found", cid.AttributeName)
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(middleware.CORS([]string{"http://localhost:3000"}))
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header for foreign origin, got %q", got)
	}
}
