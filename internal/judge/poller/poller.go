// Package poller waits for execution backend tokens to reach a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultInterval    = time.Second
	defaultMaxAttempts = 60
)

var errNotReady = errors.New("verdicts not ready")

// StatusFetcher queries the status of a batch of tokens.
type StatusFetcher interface {
	GetBatch(ctx context.Context, tokens []string) ([]model.Verdict, error)
}

// Config bounds how long a batch may be polled.
type Config struct {
	// Interval is the fixed wait between two status queries.
	Interval time.Duration `yaml:"interval"`
	// MaxAttempts caps the number of status queries; 0 means unbounded.
	MaxAttempts int `yaml:"maxAttempts"`
	// Timeout caps the total wall time; 0 means unbounded.
	Timeout time.Duration `yaml:"timeout"`
}

// Poller repeatedly queries the full token set until every verdict is terminal.
type Poller struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxAttempts int
	timeout     time.Duration
	newTimer    func() backoff.Timer
}

// New creates a poller. Zero interval and attempts fall back to 1s and 60 queries.
func New(fetcher StatusFetcher, cfg Config) (*Poller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("status fetcher is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("maxAttempts must not be negative")
	}
	if cfg.MaxAttempts == 0 && cfg.Timeout <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Poller{
		fetcher:     fetcher,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		timeout:     cfg.Timeout,
	}, nil
}

// Bound reports the worst case time a single Await may take.
func (p *Poller) Bound() time.Duration {
	byAttempts := time.Duration(0)
	if p.maxAttempts > 0 {
		byAttempts = time.Duration(p.maxAttempts) * p.interval
	}
	switch {
	case p.timeout > 0 && byAttempts > 0:
		return min(p.timeout, byAttempts)
	case p.timeout > 0:
		return p.timeout
	default:
		return byAttempts
	}
}

// Await returns one verdict per token, in token order, once all are terminal.
// Exhausting attempts or the deadline yields JudgingTimeout; backend failures
// are returned as they are and are not retried.
func (p *Poller) Await(ctx context.Context, tokens []string) ([]model.Verdict, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	attempts := 0
	operation := func() ([]model.Verdict, error) {
		attempts++
		verdicts, err := p.fetcher.GetBatch(ctx, tokens)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if len(verdicts) != len(tokens) {
			return nil, backoff.Permanent(appErr.Newf(appErr.JudgeBackendUnavailable,
				"status query returned %d verdicts for %d tokens", len(verdicts), len(tokens)))
		}
		if pending := countPending(verdicts); pending > 0 {
			return nil, fmt.Errorf("%w: %d of %d in progress", errNotReady, pending, len(tokens))
		}
		return verdicts, nil
	}

	var policy backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(p.maxAttempts-1))
	}
	notify := func(err error, next time.Duration) {
		logger.Debug(ctx, "verdicts pending", zap.Int("attempt", attempts), zap.Duration("next", next), zap.Error(err))
	}

	var timer backoff.Timer
	if p.newTimer != nil {
		timer = p.newTimer()
	}
	verdicts, err := backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(policy, ctx), notify, timer)
	if err == nil {
		logger.Debug(ctx, "verdicts ready", zap.Int("attempts", attempts), zap.Int("tokens", len(tokens)))
		return verdicts, nil
	}

	switch {
	case errors.Is(err, errNotReady):
		return nil, appErr.Newf(appErr.JudgingTimeout, "verdicts not ready after %d status queries", attempts).
			WithDetail("attempts", attempts)
	case ctx.Err() != nil:
		return nil, appErr.Wrapf(ctx.Err(), appErr.JudgingTimeout, "polling stopped after %d status queries", attempts).
			WithDetail("attempts", attempts)
	default:
		return nil, err
	}
}

func countPending(verdicts []model.Verdict) int {
	n := 0
	for _, v := range verdicts {
		if !model.IsTerminalStatus(v.StatusID) {
			n++
		}
	}
	return n
}
