package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the Wolfpack metric instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	Grinds           metric.Int64Counter
	Kills            metric.Int64Counter
	Reopens          metric.Int64Counter
	IVPNet           metric.Int64UpDownCounter
	MatchesServed    metric.Int64Counter
	RateLimitRejects metric.Int64Counter
	AuthFailures     metric.Int64Counter
	OverdueFlagged   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.RequestDuration, err = meter.Float64Histogram("wolfpack.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.Grinds, err = meter.Int64Counter("wolfpack.task.grinds",
		metric.WithDescription("Grind actions recorded"),
	); err != nil {
		return nil, err
	}
	if m.Kills, err = meter.Int64Counter("wolfpack.task.kills",
		metric.WithDescription("Tasks moved to done"),
	); err != nil {
		return nil, err
	}
	if m.Reopens, err = meter.Int64Counter("wolfpack.task.reopens",
		metric.WithDescription("Completed tasks moved back off done"),
	); err != nil {
		return nil, err
	}
	if m.IVPNet, err = meter.Int64UpDownCounter("wolfpack.ivp.net",
		metric.WithDescription("Net IVP awarded across all users"),
	); err != nil {
		return nil, err
	}
	if m.MatchesServed, err = meter.Int64Counter("wolfpack.matches.served",
		metric.WithDescription("Ranked match lists returned"),
	); err != nil {
		return nil, err
	}
	if m.RateLimitRejects, err = meter.Int64Counter("wolfpack.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	); err != nil {
		return nil, err
	}
	if m.AuthFailures, err = meter.Int64Counter("wolfpack.auth.failures",
		metric.WithDescription("Failed logins and rejected tokens"),
	); err != nil {
		return nil, err
	}
	if m.OverdueFlagged, err = meter.Int64Counter("wolfpack.sweep.overdue",
		metric.WithDescription("Tasks flagged overdue by the sweep"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordGrind(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.Grinds.Add(ctx, 1, metric.WithAttributes(AttrRole.String(role)))
}

func (m *Metrics) RecordKill(ctx context.Context, role string, points int) {
	if m == nil {
		return
	}
	m.Kills.Add(ctx, 1, metric.WithAttributes(AttrRole.String(role)))
	m.IVPNet.Add(ctx, int64(points))
}

func (m *Metrics) RecordReopen(ctx context.Context, role string, points int) {
	if m == nil {
		return
	}
	m.Reopens.Add(ctx, 1, metric.WithAttributes(AttrRole.String(role)))
	m.IVPNet.Add(ctx, -int64(points))
}

func (m *Metrics) RecordMatches(ctx context.Context) {
	if m == nil {
		return
	}
	m.MatchesServed.Add(ctx, 1)
}

func (m *Metrics) RecordRateLimitReject(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitRejects.Add(ctx, 1)
}

func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordOverdue(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OverdueFlagged.Add(ctx, int64(n))
}

func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, seconds, metric.WithAttributes(
		AttrRoute.String(route),
		AttrStatus.Int(status),
	))
}
