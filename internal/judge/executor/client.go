// Package executor talks to the Judge0 compatible execution backend.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/strutil"

	"go.uber.org/zap"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 8 << 20
	maxErrorBodyRunes   = 200
	statusFields        = "token,status_id,status,time,memory,stdout,stderr,compile_output,message"
)

// Config holds execution backend connection settings.
type Config struct {
	BaseURL string `yaml:"baseURL"`
	// APIKey is sent as X-Auth-Token, or as X-RapidAPI-Key when APIHost is set.
	APIKey       string        `yaml:"apiKey"`
	APIHost      string        `yaml:"apiHost"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
}

// Client submits batches and queries their status.
type Client struct {
	baseURL      string
	apiKey       string
	apiHost      string
	maxBodyBytes int64
	http         *http.Client
}

// NewClient validates cfg and builds a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("executor baseURL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid executor baseURL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:      base,
		apiKey:       cfg.APIKey,
		apiHost:      cfg.APIHost,
		maxBodyBytes: cfg.MaxBodyBytes,
		http:         httpClient,
	}, nil
}

// SubmitBatch sends one execution request per test case in a single call and
// returns the tokens in test case order.
func (c *Client) SubmitBatch(ctx context.Context, sourceCode string, languageID language.ID, testCases []model.TestCase) ([]string, error) {
	if len(testCases) == 0 {
		return nil, nil
	}
	req := batchSubmitRequest{Submissions: make([]submissionRequest, len(testCases))}
	for i, tc := range testCases {
		req.Submissions[i] = submissionRequest{
			SourceCode:     sourceCode,
			LanguageID:     int(languageID),
			Stdin:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "encode batch request failed")
	}

	query := url.Values{"base64_encoded": {"false"}}
	var tokens []tokenResponse
	if err := c.do(ctx, http.MethodPost, "/submissions/batch", query, body, &tokens); err != nil {
		return nil, err
	}
	if len(tokens) != len(testCases) {
		return nil, backendError(nil, "batch submit returned %d tokens for %d test cases", len(tokens), len(testCases))
	}

	out := make([]string, len(tokens))
	for i, t := range tokens {
		if t.Token == "" {
			logger.Warn(ctx, "execution backend rejected test case",
				zap.Int("index", i), zap.ByteString("errors", t.Errors))
			return nil, backendError(nil, "batch submit returned no token for test case %d", i)
		}
		out[i] = t.Token
	}
	return out, nil
}

// GetBatch fetches the current status of every token, returned in token order.
func (c *Client) GetBatch(ctx context.Context, tokens []string) ([]model.Verdict, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	query := url.Values{
		"tokens":         {strings.Join(tokens, ",")},
		"base64_encoded": {"false"},
		"fields":         {statusFields},
	}
	var resp batchStatusResponse
	if err := c.do(ctx, http.MethodGet, "/submissions/batch", query, nil, &resp); err != nil {
		return nil, err
	}

	byToken := make(map[string]statusResponse, len(resp.Submissions))
	for _, s := range resp.Submissions {
		byToken[s.Token] = s
	}
	verdicts := make([]model.Verdict, len(tokens))
	for i, token := range tokens {
		s, ok := byToken[token]
		if !ok {
			return nil, backendError(nil, "batch status is missing token %s", token)
		}
		statusID, ok := s.statusID()
		if !ok {
			return nil, backendError(nil, "batch status has no status for token %s", token)
		}
		v := model.Verdict{
			Index:         i,
			Token:         token,
			StatusID:      statusID,
			Time:          float64(s.Time),
			Stdout:        deref(s.Stdout),
			Stderr:        deref(s.Stderr),
			CompileOutput: deref(s.CompileOutput),
		}
		if s.Status != nil {
			v.Status = s.Status.Description
		}
		if s.Memory != nil {
			v.Memory = *s.Memory
		}
		verdicts[i] = v
	}
	return verdicts, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "build executor request failed")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		if c.apiHost != "" {
			req.Header.Set("X-RapidAPI-Key", c.apiKey)
			req.Header.Set("X-RapidAPI-Host", c.apiHost)
		} else {
			req.Header.Set("X-Auth-Token", c.apiKey)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return backendError(err, "executor request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return backendError(err, "read executor response failed")
	}
	logger.Debug(ctx, "executor call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backendError(nil, "executor returned HTTP %d: %s", resp.StatusCode, strutil.Truncate(string(data), maxErrorBodyRunes))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return backendError(nil, "executor returned an empty body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backendError(err, "decode executor response failed")
	}
	return nil
}

func backendError(err error, format string, args ...interface{}) *appErr.Error {
	if err == nil {
		return appErr.Newf(appErr.JudgeBackendUnavailable, format, args...)
	}
	return appErr.Wrapf(err, appErr.JudgeBackendUnavailable, format, args...)
}
