package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	pkgerrors "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenCookieName    = "token"
	tokenBlocklistKey  = "token:blocklist:"
	accessTokenType    = "access"
	defaultAuthTimeout = 200 * time.Millisecond
)

// AuthConfig configures access token validation.
type AuthConfig struct {
	Secret string
	Issuer string
	// Blocklist holds revoked tokens by sha256. Optional.
	Blocklist cache.BasicOps
	Timeout   time.Duration
}

type tokenClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticator resolves the user id of an access token.
type Authenticator struct {
	secret    []byte
	issuer    string
	blocklist cache.BasicOps
	timeout   time.Duration
}

func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAuthTimeout
	}
	return &Authenticator{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		blocklist: cfg.Blocklist,
		timeout:   cfg.Timeout,
	}, nil
}

// Authenticate validates raw and returns the user id in its subject.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (int64, error) {
	if raw == "" {
		return 0, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("missing access token")
	}
	claims, err := a.parseToken(raw)
	if err != nil {
		return 0, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.blocklist != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		n, err := a.blocklist.Exists(cacheCtx, tokenBlocklistKey+hashToken(raw))
		if err != nil {
			return 0, pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
		}
		if n > 0 {
			return 0, pkgerrors.New(pkgerrors.TokenRevoked)
		}
	}
	return userID, nil
}

// Revoke adds raw to the blocklist until ttl elapses.
func (a *Authenticator) Revoke(ctx context.Context, raw string, ttl time.Duration) error {
	if a.blocklist == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("token blocklist not configured")
	}
	if err := a.blocklist.Set(ctx, tokenBlocklistKey+hashToken(raw), "1", ttl); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
	}
	return nil
}

func (a *Authenticator) parseToken(raw string) (*tokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != accessTokenType || claims.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

// AuthMiddleware rejects requests without a valid access token and stores the user id
// under "user_id" in both the gin and request contexts.
func AuthMiddleware(auth *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}
		userID, err := auth.Authenticate(c.Request.Context(), extractToken(c))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		bind(c, userIDContextKey, contextkey.UserID, userID)
		if c.GetBool(echoUserIDKey) {
			c.Writer.Header().Set(userIDHeader, strconv.FormatInt(userID, 10))
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or 0 when the request was not authenticated.
func UserID(c *gin.Context) int64 {
	if v, ok := c.Get(userIDContextKey); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

func extractToken(c *gin.Context) string {
	if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if cookie, err := c.Cookie(tokenCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
