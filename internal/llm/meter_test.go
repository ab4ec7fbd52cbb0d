package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	reply string
	err   error
	calls int
}

func (s *stubClient) GenerateContent(context.Context, string, ModelTier) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubClient) GenerateJSON(context.Context, string, ModelTier) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubClient) GetModel(tier ModelTier) string { return "model-" + string(tier) }

func (s *stubClient) Close() error { return nil }

func TestMetered_RecordsIntoContextMeter(t *testing.T) {
	stub := &stubClient{reply: `{"ok":true}`}
	client := NewMetered(stub)
	tick := time.Unix(0, 0)
	client.now = func() time.Time {
		tick = tick.Add(50 * time.Millisecond)
		return tick
	}

	meter := NewMeter()
	ctx := WithMeter(context.Background(), meter)

	_, err := client.GenerateJSON(ctx, "hello", TierStandard)
	require.NoError(t, err)

	stub.err = errors.New("quota")
	_, err = client.GenerateContent(ctx, "hi", TierStandard)
	require.Error(t, err)

	_, err = client.GenerateContent(ctx, "lite", TierLite)
	require.Error(t, err)

	usage := meter.Snapshot()
	require.Len(t, usage, 2)
	assert.Equal(t, Usage{Model: "model-lite", Calls: 1, Failures: 1, PromptChars: 4, ResponseChars: 11, LatencyMs: 50}, usage[0])
	assert.Equal(t, "model-standard", usage[1].Model)
	assert.Equal(t, 2, usage[1].Calls)
	assert.Equal(t, 1, usage[1].Failures)
	assert.Equal(t, int64(7), usage[1].PromptChars)
	assert.Equal(t, int64(100), usage[1].LatencyMs)
}

func TestMetered_NoMeterInContext(t *testing.T) {
	stub := &stubClient{reply: "x"}
	out, err := NewMetered(stub).GenerateContent(context.Background(), "p", TierLite)
	require.NoError(t, err)
	assert.Equal(t, "x", out)
	assert.Nil(t, MeterFrom(context.Background()))
}

func TestMeter_ConcurrentAndDrain(t *testing.T) {
	m := NewMeter()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record("m", 1, 1, time.Millisecond, false)
		}()
	}
	wg.Wait()

	usage := m.Drain()
	require.Len(t, usage, 1)
	assert.Equal(t, 20, usage[0].Calls)
	assert.Empty(t, m.Snapshot())
}

func TestThrottled_ContextCanceled(t *testing.T) {
	stub := &stubClient{reply: "x"}
	client := NewThrottled(stub, 0.001, nil)

	_, err := client.GenerateContent(context.Background(), "first", TierLite)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.GenerateContent(ctx, "second", TierLite)
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}
