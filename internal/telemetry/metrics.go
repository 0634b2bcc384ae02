package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/corewind/durable-orchestrator"

// Metrics bundles the named instruments of §6.4: counters for lifecycle
// events, histograms for latency. A nil *Metrics is valid and every method
// on it is a no-op, so call sites don't need to guard on whether
// telemetry is enabled.
type Metrics struct {
	orchestrationsStarted   metric.Int64Counter
	orchestrationsCompleted metric.Int64Counter
	orchestrationsFailed    metric.Int64Counter
	functionCalls           metric.Int64Counter
	functionFailures        metric.Int64Counter
	eventsRaised            metric.Int64Counter
	eventsDelivered         metric.Int64Counter
	timersCreated           metric.Int64Counter
	timersFired             metric.Int64Counter
	leasesActive            metric.Int64UpDownCounter

	orchestrationDuration metric.Float64Histogram
	functionDuration      metric.Float64Histogram
	stateSaveDuration     metric.Float64Histogram
	stateLoadDuration     metric.Float64Histogram
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
	meterProvider   *sdkmetric.MeterProvider
)

// InitMetrics installs an SDK meter provider when OTEL_ENABLED is set and
// builds the instrument set. No metric reader or exporter is attached to
// that provider. Call once at process start; safe to call when telemetry
// is disabled, in which case Current() still returns a usable no-op-safe
// instance backed by the global no-op meter provider.
func InitMetrics(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		if enabled() {
			meterProvider = sdkmetric.NewMeterProvider()
			otel.SetMeterProvider(meterProvider)
		}
		meter := otel.Meter(meterName)
		m := &Metrics{}
		m.orchestrationsStarted, _ = meter.Int64Counter("orchestrator.orchestrations.started",
			metric.WithDescription("orchestrations started via StartNew"))
		m.orchestrationsCompleted, _ = meter.Int64Counter("orchestrator.orchestrations.completed",
			metric.WithDescription("orchestrations that completed successfully"))
		m.orchestrationsFailed, _ = meter.Int64Counter("orchestrator.orchestrations.failed",
			metric.WithDescription("orchestrations that completed with an error or were terminated"))
		m.functionCalls, _ = meter.Int64Counter("orchestrator.function.calls",
			metric.WithDescription("activity and sub-orchestrator invocations"))
		m.functionFailures, _ = meter.Int64Counter("orchestrator.function.failures",
			metric.WithDescription("activity and sub-orchestrator invocations that returned an error"))
		m.eventsRaised, _ = meter.Int64Counter("orchestrator.events.raised",
			metric.WithDescription("external events raised via RaiseEvent"))
		m.eventsDelivered, _ = meter.Int64Counter("orchestrator.events.delivered",
			metric.WithDescription("external events delivered to a waiting orchestration"))
		m.timersCreated, _ = meter.Int64Counter("orchestrator.timers.created",
			metric.WithDescription("durable timers created"))
		m.timersFired, _ = meter.Int64Counter("orchestrator.timers.fired",
			metric.WithDescription("durable timers that reached their fire_at"))
		m.leasesActive, _ = meter.Int64UpDownCounter("orchestrator.leases.active",
			metric.WithDescription("leases currently held by this host"))
		m.orchestrationDuration, _ = meter.Float64Histogram("orchestrator.orchestration.duration",
			metric.WithDescription("wall-clock seconds from start to terminal status"), metric.WithUnit("s"))
		m.functionDuration, _ = meter.Float64Histogram("orchestrator.function.duration",
			metric.WithDescription("seconds spent executing one activity or sub-orchestrator pass"), metric.WithUnit("s"))
		m.stateSaveDuration, _ = meter.Float64Histogram("orchestrator.state.save.duration",
			metric.WithDescription("seconds spent committing a work set to the store"), metric.WithUnit("s"))
		m.stateLoadDuration, _ = meter.Float64Histogram("orchestrator.state.load.duration",
			metric.WithDescription("seconds spent loading full instance state from the store"), metric.WithUnit("s"))
		metricsInstance = m
	})
	return metricsInstance
}

// Current returns the installed Metrics, or a freshly built no-op-backed
// instance if InitMetrics was never called.
func Current() *Metrics {
	if metricsInstance != nil {
		return metricsInstance
	}
	return InitMetrics(Config{})
}

func ShutdownMetrics(ctx context.Context) error {
	if meterProvider == nil {
		return nil
	}
	return meterProvider.Shutdown(ctx)
}

func (m *Metrics) OrchestrationStarted(ctx context.Context, functionName string) {
	if m == nil || m.orchestrationsStarted == nil {
		return
	}
	m.orchestrationsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("function_name", functionName)))
}

func (m *Metrics) OrchestrationCompleted(ctx context.Context, functionName string, succeeded bool, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("function_name", functionName))
	if succeeded {
		if m.orchestrationsCompleted != nil {
			m.orchestrationsCompleted.Add(ctx, 1, attrs)
		}
	} else if m.orchestrationsFailed != nil {
		m.orchestrationsFailed.Add(ctx, 1, attrs)
	}
	if m.orchestrationDuration != nil {
		m.orchestrationDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (m *Metrics) FunctionCall(ctx context.Context, functionName string, kind string, succeeded bool, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("function_name", functionName), attribute.String("kind", kind))
	if m.functionCalls != nil {
		m.functionCalls.Add(ctx, 1, attrs)
	}
	if !succeeded && m.functionFailures != nil {
		m.functionFailures.Add(ctx, 1, attrs)
	}
	if m.functionDuration != nil {
		m.functionDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (m *Metrics) EventRaised(ctx context.Context, eventName string, delivered bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event_name", eventName))
	if m.eventsRaised != nil {
		m.eventsRaised.Add(ctx, 1, attrs)
	}
	if delivered && m.eventsDelivered != nil {
		m.eventsDelivered.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) TimerCreated(ctx context.Context) {
	if m == nil || m.timersCreated == nil {
		return
	}
	m.timersCreated.Add(ctx, 1)
}

func (m *Metrics) TimerFired(ctx context.Context) {
	if m == nil || m.timersFired == nil {
		return
	}
	m.timersFired.Add(ctx, 1)
}

func (m *Metrics) LeaseAcquired(ctx context.Context) {
	if m == nil || m.leasesActive == nil {
		return
	}
	m.leasesActive.Add(ctx, 1)
}

func (m *Metrics) LeaseReleased(ctx context.Context) {
	if m == nil || m.leasesActive == nil {
		return
	}
	m.leasesActive.Add(ctx, -1)
}

func (m *Metrics) StateSaved(ctx context.Context, duration time.Duration) {
	if m == nil || m.stateSaveDuration == nil {
		return
	}
	m.stateSaveDuration.Record(ctx, duration.Seconds())
}

func (m *Metrics) StateLoaded(ctx context.Context, duration time.Duration) {
	if m == nil || m.stateLoadDuration == nil {
		return
	}
	m.stateLoadDuration.Record(ctx, duration.Seconds())
}
