package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics built from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that logs nothing, exports nothing and records no
// metrics. It is the default for components built without telemetry.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	logger := NewLoggerTo(nopWriter{}, LoggingConfig{Level: "fatal", Format: "json"})
	return &Telemetry{Logger: logger, Tracer: tracer, Metrics: metrics, Config: cfg}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil when none was attached.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the standalone metrics HTTP server if configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// CommandScope tracks one command handler from start to finish.
type CommandScope struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	tel         *Telemetry
	commandType string
	timer       *Timer
}

// StartCommand opens a span and a request-scoped logger for a command.
func (t *Telemetry) StartCommand(ctx context.Context, commandType, requestID string) *CommandScope {
	spanCtx, span := t.Tracer.StartCommandSpan(ctx, commandType, requestID)

	logger := t.Logger.WithCommand(commandType, requestID)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithTrace(sc.TraceID().String(), sc.SpanID().String())
	}

	t.Metrics.RecordCommandReceived(commandType)
	t.Metrics.AddInFlight(1)

	return &CommandScope{
		Ctx:         logger.WithContext(spanCtx),
		Span:        span,
		Logger:      logger,
		tel:         t,
		commandType: commandType,
		timer:       NewTimer(),
	}
}

// End finishes the command, recording its status and duration.
func (s *CommandScope) End(status string, err error) {
	if err != nil {
		RecordError(s.Span, err)
	} else {
		RecordSuccess(s.Span)
	}
	s.Span.End()
	s.tel.Metrics.AddInFlight(-1)
	s.tel.Metrics.RecordCommandCompleted(s.commandType, status, s.timer.Duration())
}

// ObserveProviderCall runs fn inside a provider span and records its call
// count, duration and error metrics.
func (t *Telemetry) ObserveProviderCall(ctx context.Context, providerName, operation string, fn func(ctx context.Context) error) error {
	ctx, span := t.Tracer.StartProviderSpan(ctx, providerName, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	t.Metrics.RecordProviderCall(providerName, operation, time.Since(start))

	if err != nil {
		t.Metrics.RecordProviderError(providerName, operation)
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}
