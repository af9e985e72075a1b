package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceSeen struct {
	traceID      string
	requestID    string
	ctxTraceID   interface{}
	ctxRequestID interface{}
	ginUserID    bool
	ctxUserID    interface{}
}

func newTraceRouter(cfg commonmw.TraceConfig, seen *traceSeen) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(commonmw.TraceMiddleware(cfg))
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		_, hasUser := c.Get("user_id")
		*seen = traceSeen{
			traceID:      commonmw.TraceID(c),
			requestID:    c.GetString("request_id"),
			ctxTraceID:   ctx.Value(contextkey.TraceID),
			ctxRequestID: ctx.Value(contextkey.RequestID),
			ginUserID:    hasUser,
			ctxUserID:    ctx.Value(contextkey.UserID),
		}
		c.Status(http.StatusOK)
	})
	return router
}

func TestTraceMiddleware(t *testing.T) {
	cases := []struct {
		name          string
		headers       map[string]string
		wantTraceID   string
		wantRequestID string
	}{
		{name: "generates ids"},
		{
			name:          "keeps inbound ids",
			headers:       map[string]string{"X-Trace-Id": "trace-123", "X-Request-Id": "req-123"},
			wantTraceID:   "trace-123",
			wantRequestID: "req-123",
		},
		{
			name:          "replaces oversized trace id",
			headers:       map[string]string{"X-Trace-Id": strings.Repeat("a", 200), "X-Request-Id": "req-9"},
			wantRequestID: "req-9",
		},
		{
			name:        "replaces request id with control characters",
			headers:     map[string]string{"X-Trace-Id": "t-1", "X-Request-Id": "bad\tid"},
			wantTraceID: "t-1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen traceSeen
			router := newTraceRouter(commonmw.TraceConfig{}, &seen)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			router.ServeHTTP(rec, req)

			if seen.traceID == "" || seen.requestID == "" {
				t.Fatalf("expected ids in gin context, got %+v", seen)
			}
			if seen.ctxTraceID != seen.traceID || seen.ctxRequestID != seen.requestID {
				t.Fatalf("request context disagrees with gin context: %+v", seen)
			}
			if rec.Header().Get("X-Trace-Id") != seen.traceID || rec.Header().Get("X-Request-Id") != seen.requestID {
				t.Fatalf("response headers not echoed: %v", rec.Header())
			}
			if tc.wantTraceID != "" && seen.traceID != tc.wantTraceID {
				t.Fatalf("expected trace id %q, got %q", tc.wantTraceID, seen.traceID)
			}
			if tc.wantRequestID != "" && seen.requestID != tc.wantRequestID {
				t.Fatalf("expected request id %q, got %q", tc.wantRequestID, seen.requestID)
			}
			if v, ok := tc.headers["X-Trace-Id"]; ok && tc.wantTraceID == "" && seen.traceID == v {
				t.Fatalf("malformed trace id was kept")
			}
			if v, ok := tc.headers["X-Request-Id"]; ok && tc.wantRequestID == "" && seen.requestID == v {
				t.Fatalf("malformed request id was kept")
			}
		})
	}
}

func TestTraceMiddlewareIgnoresUserHeader(t *testing.T) {
	var seen traceSeen
	router := newTraceRouter(commonmw.TraceConfig{EchoUserID: true}, &seen)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	req.Header.Set("X-User-Id", "42")
	router.ServeHTTP(rec, req)

	if seen.ginUserID || seen.ctxUserID != nil {
		t.Fatalf("user id header must not reach the context: %+v", seen)
	}
	if rec.Header().Get("X-User-Id") != "" {
		t.Fatalf("unauthenticated user id should not be echoed")
	}
}
