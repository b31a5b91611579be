package orchestrator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-announcer/orchestrator"

func tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

type metrics struct {
	enqueuedCounter metric.Int64Counter
	spokenCounter   metric.Int64Counter
	droppedCounter  metric.Int64Counter
	failedCounter   metric.Int64Counter
	duration        metric.Float64Histogram
	registration    metric.Registration
}

func newMetrics(depth func() int, log *slog.Logger) *metrics {
	m := &metrics{}
	if err := m.init(otel.Meter(instrumentationName), depth); err != nil {
		log.Warn("failed to initialize metrics", slogError(err))
	}
	return m
}

func (m *metrics) init(meter metric.Meter, depth func() int) error {
	var err error
	if m.enqueuedCounter, err = meter.Int64Counter("announcer.utterances.enqueued", metric.WithDescription("Utterances accepted into the queue")); err != nil {
		return err
	}
	if m.spokenCounter, err = meter.Int64Counter("announcer.utterances.spoken", metric.WithDescription("Utterances spoken to completion")); err != nil {
		return err
	}
	if m.droppedCounter, err = meter.Int64Counter("announcer.utterances.dropped", metric.WithDescription("Utterances dropped or discarded without speaking")); err != nil {
		return err
	}
	if m.failedCounter, err = meter.Int64Counter("announcer.utterances.failed", metric.WithDescription("Utterances whose engine reported an error")); err != nil {
		return err
	}
	if m.duration, err = meter.Float64Histogram("announcer.speak.duration", metric.WithDescription("Time spent speaking one utterance"), metric.WithUnit("s")); err != nil {
		return err
	}
	gauge, err := meter.Int64ObservableGauge("announcer.queue.depth", metric.WithDescription("Utterances waiting to be spoken"))
	if err != nil {
		return err
	}
	m.registration, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(depth()))
		return nil
	}, gauge)
	return err
}

func (m *metrics) enqueued(source string) {
	if m.enqueuedCounter == nil {
		return
	}
	m.enqueuedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *metrics) finished(res Result) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("engine", res.Engine), attribute.String("status", string(res.Status)))
	switch res.Status {
	case StatusSpoken:
		if m.spokenCounter != nil {
			m.spokenCounter.Add(ctx, 1, attrs)
		}
	case StatusFailed:
		if m.failedCounter != nil {
			m.failedCounter.Add(ctx, 1, attrs)
		}
	default:
		if m.droppedCounter != nil {
			m.droppedCounter.Add(ctx, 1, attrs)
		}
	}
	if m.duration != nil && res.Duration > 0 {
		m.duration.Record(ctx, res.Duration.Seconds(), attrs)
	}
}

func (m *metrics) close() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}
