package aicall

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jun/soapnote/internal/metrics"
)

// Policy configures retries on the primary model and the server-error fallback.
type Policy struct {
	Primary     string
	Fallback    string
	MaxAttempts int
	BaseDelay   time.Duration
	// Timeout bounds a single call. Zero means no bound.
	Timeout time.Duration
	// Classify defaults to the package Classify.
	Classify func(error) Kind
}

// DefaultPolicy is two attempts on gemini-2.5-pro, 1.5s apart, then gemini-2.5-flash.
func DefaultPolicy() Policy {
	return Policy{
		Primary:     "gemini-2.5-pro",
		Fallback:    "gemini-2.5-flash",
		MaxAttempts: 2,
		BaseDelay:   1500 * time.Millisecond,
	}
}

// Caller runs requests through a Generator under a Policy.
type Caller struct {
	gen     Generator
	policy  Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller.
func NewCaller(gen Generator, policy Policy, logger *zap.Logger, m *metrics.Metrics) *Caller {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Classify == nil {
		policy.Classify = Classify
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Caller{gen: gen, policy: policy, logger: logger, metrics: m, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do sends req and returns the trimmed response text. label names the
// operation in error messages, e.g. "Gemini 음성인식".
func (c *Caller) Do(ctx context.Context, req Request, label string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		text, err := c.call(ctx, c.policy.Primary, req)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, ErrMissingAPIKey) {
			return "", &Error{Kind: KindInvalidCredential, Label: label, Message: MsgMissingKey, Err: err}
		}
		lastErr = err
		c.logger.Warn("model call failed",
			zap.String("label", label),
			zap.String("model", c.policy.Primary),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == c.policy.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.policy.BaseDelay*time.Duration(attempt)); err != nil {
			break
		}
	}

	kind := c.policy.Classify(lastErr)
	if kind == KindServerError && c.policy.Fallback != "" && ctx.Err() == nil {
		c.logger.Warn("primary model failed with internal error, trying fallback",
			zap.String("primary", c.policy.Primary),
			zap.String("fallback", c.policy.Fallback),
		)
		c.metrics.AIFallbacks.Inc()
		text, err := c.call(ctx, c.policy.Fallback, req)
		if err == nil {
			return text, nil
		}
		c.logger.Error("fallback model failed", zap.String("model", c.policy.Fallback), zap.Error(err))
	}

	return "", newError(kind, label, lastErr)
}

func (c *Caller) call(ctx context.Context, model string, req Request) (string, error) {
	if c.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := c.gen.Generate(ctx, model, req)
	c.metrics.AIDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.AIAttempts.WithLabelValues(model, string(c.policy.Classify(err))).Inc()
		return "", err
	}
	c.metrics.AIAttempts.WithLabelValues(model, "ok").Inc()
	return strings.TrimSpace(text), nil
}
