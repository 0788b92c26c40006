package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service's metric instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	LLMCallDuration  metric.Float64Histogram
	LLMFallbacks     metric.Int64Counter
	RateLimitRejects metric.Int64Counter
	AuthFailures     metric.Int64Counter
	TaskMutations    metric.Int64Counter
	ChatMessages     metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("taskchat.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("taskchat.llm.duration",
		metric.WithDescription("Chat model call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMFallbacks, err = meter.Int64Counter("taskchat.llm.fallbacks",
		metric.WithDescription("Chat messages answered by the deterministic responder after a model failure"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("taskchat.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthFailures, err = meter.Int64Counter("taskchat.auth.failures",
		metric.WithDescription("Rejected logins and tokens"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskMutations, err = meter.Int64Counter("taskchat.task.mutations",
		metric.WithDescription("Task create, update and delete operations"),
	)
	if err != nil {
		return nil, err
	}

	m.ChatMessages, err = meter.Int64Counter("taskchat.chat.messages",
		metric.WithDescription("Chat messages handled, by intent"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		AttrRoute.String(route), AttrStatus.Int(status)))
}

func (m *Metrics) RecordLLMCall(ctx context.Context, provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMCallDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		AttrProvider.String(provider), attribute.Bool("error", err != nil)))
}

func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.LLMFallbacks.Add(ctx, 1, metric.WithAttributes(AttrReason.String(reason)))
}

func (m *Metrics) RecordRateLimitReject(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.RateLimitRejects.Add(ctx, 1, metric.WithAttributes(AttrLimitClass.String(class)))
}

func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(AttrReason.String(reason)))
}

func (m *Metrics) RecordTaskMutation(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.TaskMutations.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op)))
}

func (m *Metrics) RecordChatMessage(ctx context.Context, intent string, demo bool) {
	if m == nil {
		return
	}
	m.ChatMessages.Add(ctx, 1, metric.WithAttributes(AttrIntent.String(intent), AttrDemoMode.Bool(demo)))
}
