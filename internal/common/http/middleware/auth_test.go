package middleware_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/http/middleware"
	pkgerrors "codejudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const (
	testSecret = "test-secret"
	testIssuer = "codejudge"
)

type envelope struct {
	Code int `json:"code"`
}

func newTestAuthenticator(t *testing.T, blocklist cache.BasicOps) *middleware.Authenticator {
	t.Helper()
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{
		Secret:    testSecret,
		Issuer:    testIssuer,
		Blocklist: blocklist,
	})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return auth
}

func newProtectedRouter(auth *middleware.Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", middleware.AuthMiddleware(auth), func(c *gin.Context) {
		c.Header("X-User-Id", fmt.Sprint(middleware.UserID(c)))
		c.Status(http.StatusOK)
	})
	return router
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return raw
}

func accessToken(t *testing.T, userID int64) string {
	return signToken(t, jwt.MapClaims{
		"typ": "access",
		"sub": fmt.Sprintf("%d", userID),
		"iss": testIssuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func perform(router http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp envelope
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	return rec, resp
}

func TestAuthMiddleware(t *testing.T) {
	router := newProtectedRouter(newTestAuthenticator(t, nil))
	token := accessToken(t, 42)

	cases := []struct {
		name       string
		header     string
		cookie     string
		wantStatus int
		wantCode   pkgerrors.ErrorCode
		wantUserID string
	}{
		{name: "missing token", wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.Unauthorized},
		{name: "bearer token", header: "Bearer " + token, wantStatus: http.StatusOK, wantUserID: "42"},
		{name: "cookie token", cookie: token, wantStatus: http.StatusOK, wantUserID: "42"},
		{name: "malformed header", header: "Token " + token, wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.Unauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.TokenInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tc.cookie})
			}
			rec, resp := perform(router, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if tc.wantCode != 0 && resp.Code != int(tc.wantCode) {
				t.Fatalf("unexpected error code: %d", resp.Code)
			}
			if tc.wantUserID != "" && rec.Header().Get("X-User-Id") != tc.wantUserID {
				t.Fatalf("unexpected user id header: %s", rec.Header().Get("X-User-Id"))
			}
		})
	}
}

func TestAuthMiddlewareNilAuthenticator(t *testing.T) {
	router := newProtectedRouter(nil)
	rec, resp := perform(router, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if resp.Code != int(pkgerrors.ServiceUnavailable) {
		t.Fatalf("unexpected error code: %d", resp.Code)
	}
}

func TestAuthenticateErrors(t *testing.T) {
	auth := newTestAuthenticator(t, nil)
	now := time.Now()

	cases := []struct {
		name     string
		claims   jwt.MapClaims
		wantCode pkgerrors.ErrorCode
	}{
		{
			name:     "expired",
			claims:   jwt.MapClaims{"typ": "access", "sub": "1", "iss": testIssuer, "exp": now.Add(-time.Minute).Unix()},
			wantCode: pkgerrors.TokenExpired,
		},
		{
			name:     "wrong issuer",
			claims:   jwt.MapClaims{"typ": "access", "sub": "1", "iss": "other", "exp": now.Add(time.Minute).Unix()},
			wantCode: pkgerrors.TokenInvalid,
		},
		{
			name:     "refresh token",
			claims:   jwt.MapClaims{"typ": "refresh", "sub": "1", "iss": testIssuer, "exp": now.Add(time.Minute).Unix()},
			wantCode: pkgerrors.TokenInvalid,
		},
		{
			name:     "non numeric subject",
			claims:   jwt.MapClaims{"typ": "access", "sub": "alice", "iss": testIssuer, "exp": now.Add(time.Minute).Unix()},
			wantCode: pkgerrors.TokenInvalid,
		},
		{
			name:     "zero subject",
			claims:   jwt.MapClaims{"typ": "access", "sub": "0", "iss": testIssuer, "exp": now.Add(time.Minute).Unix()},
			wantCode: pkgerrors.TokenInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := auth.Authenticate(context.Background(), signToken(t, tc.claims))
			if err == nil {
				t.Fatalf("expected error")
			}
			if pkgerrors.GetCode(err) != tc.wantCode {
				t.Fatalf("unexpected error code: %v", err)
			}
		})
	}
}

func TestAuthenticateRejectsOtherSigningMethod(t *testing.T) {
	auth := newTestAuthenticator(t, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"typ": "access", "sub": "1", "iss": testIssuer, "exp": time.Now().Add(time.Minute).Unix(),
	})
	raw, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), raw); pkgerrors.GetCode(err) != pkgerrors.TokenInvalid {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestRevokedTokenIsRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer rc.Close()

	auth := newTestAuthenticator(t, rc)
	router := newProtectedRouter(auth)
	token := accessToken(t, 7)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec, _ := perform(router, req); rec.Code != http.StatusOK {
		t.Fatalf("unexpected status before revoke: %d", rec.Code)
	}

	if err := auth.Revoke(context.Background(), token, time.Hour); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, resp := perform(router, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status after revoke: %d", rec.Code)
	}
	if resp.Code != int(pkgerrors.TokenRevoked) {
		t.Fatalf("unexpected error code: %d", resp.Code)
	}

	mr.FastForward(2 * time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec, _ := perform(router, req); rec.Code != http.StatusOK {
		t.Fatalf("blocklist entry should expire, got status %d", rec.Code)
	}
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := middleware.NewAuthenticator(middleware.AuthConfig{}); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestAuthEchoesUserIDAfterTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TraceMiddleware(middleware.TraceConfig{EchoUserID: true}))
	router.GET("/protected", middleware.AuthMiddleware(newTestAuthenticator(t, nil)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, 77))
	req.Header.Set("X-User-Id", "1")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-User-Id"); got != "77" {
		t.Fatalf("expected authenticated user id to be echoed, got %q", got)
	}
}
