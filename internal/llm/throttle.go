package llm

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Throttled shares one token bucket across every caller of the wrapped client.
type Throttled struct {
	next    Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewThrottled limits next to perSecond calls with a burst of the same size.
func NewThrottled(next Client, perSecond float64, logger *zap.Logger) *Throttled {
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

func (t *Throttled) wait(ctx context.Context, tier ModelTier) error {
	if t.limiter.Tokens() < 1 {
		t.logger.Debug("llm rate limited", zap.String("model", t.next.GetModel(tier)))
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// GenerateContent implements Client.
func (t *Throttled) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := t.wait(ctx, tier); err != nil {
		return "", err
	}
	return t.next.GenerateContent(ctx, prompt, tier)
}

// GenerateJSON implements Client.
func (t *Throttled) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	if err := t.wait(ctx, tier); err != nil {
		return "", err
	}
	return t.next.GenerateJSON(ctx, prompt, tier)
}

// GetModel implements Client.
func (t *Throttled) GetModel(tier ModelTier) string { return t.next.GetModel(tier) }

// Close implements Client.
func (t *Throttled) Close() error { return t.next.Close() }
