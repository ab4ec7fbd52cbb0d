package llm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Usage aggregates the calls made to one model.
type Usage struct {
	Model         string `json:"model"`
	Calls         int    `json:"calls"`
	Failures      int    `json:"failures"`
	PromptChars   int64  `json:"promptChars"`
	ResponseChars int64  `json:"responseChars"`
	LatencyMs     int64  `json:"latencyMs"`
}

// Meter accumulates usage for one job. It is safe for concurrent use.
type Meter struct {
	mu     sync.Mutex
	models map[string]*Usage
}

// NewMeter creates an empty meter.
func NewMeter() *Meter {
	return &Meter{models: make(map[string]*Usage)}
}

// Record adds one call.
func (m *Meter) Record(model string, promptChars, responseChars int, latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.models[model]
	if !ok {
		u = &Usage{Model: model}
		m.models[model] = u
	}
	u.Calls++
	if failed {
		u.Failures++
	}
	u.PromptChars += int64(promptChars)
	u.ResponseChars += int64(responseChars)
	u.LatencyMs += latency.Milliseconds()
}

// Snapshot returns the usage per model, sorted by model name.
func (m *Meter) Snapshot() []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Usage, 0, len(m.models))
	for _, u := range m.models {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Drain returns the snapshot and resets the meter.
func (m *Meter) Drain() []Usage {
	out := m.Snapshot()
	m.mu.Lock()
	m.models = make(map[string]*Usage)
	m.mu.Unlock()
	return out
}

type meterKey struct{}

// WithMeter attaches m to ctx so metered clients record into it.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// MeterFrom returns the meter attached to ctx, or nil.
func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}

// Metered records every call into the meter carried by the call's context.
type Metered struct {
	next Client
	now  func() time.Time
}

// NewMetered wraps next.
func NewMetered(next Client) *Metered {
	return &Metered{next: next, now: time.Now}
}

// GenerateContent implements Client.
func (m *Metered) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return m.observe(ctx, prompt, tier, m.next.GenerateContent)
}

// GenerateJSON implements Client.
func (m *Metered) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return m.observe(ctx, prompt, tier, m.next.GenerateJSON)
}

func (m *Metered) observe(ctx context.Context, prompt string, tier ModelTier,
	call func(context.Context, string, ModelTier) (string, error)) (string, error) {
	start := m.now()
	out, err := call(ctx, prompt, tier)
	if meter := MeterFrom(ctx); meter != nil {
		meter.Record(m.next.GetModel(tier), len(prompt), len(out), m.now().Sub(start), err != nil)
	}
	return out, err
}

// GetModel implements Client.
func (m *Metered) GetModel(tier ModelTier) string { return m.next.GetModel(tier) }

// Close implements Client.
func (m *Metered) Close() error { return m.next.Close() }
