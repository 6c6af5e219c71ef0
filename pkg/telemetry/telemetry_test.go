package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "production needs endpoint", mutate: func(c *Config) { *c = *ProductionConfig() }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsRecorders(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCommandReceived("terminate")
	m.RecordCommandReceived("terminate")
	m.RecordDeletion("vpc", "deleted")
	m.RecordConfirmation("power", "confirmed")
	m.RecordProviderCall("aws", "DeleteVpc", 20*time.Millisecond)
	m.RecordProviderError("aws", "DeleteVpc")
	m.AddInFlight(2)
	m.AddInFlight(-1)
	m.SetRegistryCount("vpc", "active", 3)

	if got := testutil.ToFloat64(m.commandsReceived.WithLabelValues("terminate")); got != 2 {
		t.Errorf("commands_received_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.deletions.WithLabelValues("vpc", "deleted")); got != 1 {
		t.Errorf("deletions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.providerErrors.WithLabelValues("aws", "DeleteVpc")); got != 1 {
		t.Errorf("provider_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Errorf("worker_pool_in_flight = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.registryResources.WithLabelValues("vpc", "active")); got != 3 {
		t.Errorf("registry_resources = %v, want 3", got)
	}

	count, err := testutil.GatherAndCount(m.Gatherer(), "pockitect_confirmations_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("confirmations series = %d, want 1", count)
	}
}

func TestMetricsDisabledAndNil(t *testing.T) {
	disabled, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	var nilMetrics *Metrics
	for _, m := range []*Metrics{disabled, nilMetrics} {
		m.RecordCommandReceived("scan_all_regions")
		m.RecordDeletion("vpc", "failed")
		m.AddInFlight(1)
		m.RecordError("permanent", "NOT_FOUND")
		if err := m.StartMetricsServer(); err != nil {
			t.Errorf("StartMetricsServer() error = %v", err)
		}
	}
}

func TestObserveProviderCall(t *testing.T) {
	tel := Nop()
	tel.Metrics = newTestMetrics(t)

	boom := errors.New("boom")
	err := tel.ObserveProviderCall(context.Background(), "memory", "DeleteSubnet", func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ObserveProviderCall() error = %v, want boom", err)
	}
	if err := tel.ObserveProviderCall(context.Background(), "memory", "DeleteSubnet", func(context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("ObserveProviderCall() error = %v", err)
	}

	if got := testutil.ToFloat64(tel.Metrics.providerCalls.WithLabelValues("memory", "DeleteSubnet")); got != 2 {
		t.Errorf("provider_calls_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.providerErrors.WithLabelValues("memory", "DeleteSubnet")); got != 1 {
		t.Errorf("provider_errors_total = %v, want 1", got)
	}
}

func TestCommandScope(t *testing.T) {
	tel := Nop()
	tel.Metrics = newTestMetrics(t)

	scope := tel.StartCommand(context.Background(), "power", "req-1")
	if got := testutil.ToFloat64(tel.Metrics.inFlight); got != 1 {
		t.Errorf("in flight during command = %v, want 1", got)
	}
	scope.End("success", nil)

	if got := testutil.ToFloat64(tel.Metrics.inFlight); got != 0 {
		t.Errorf("in flight after command = %v, want 0", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.commandsReceived.WithLabelValues("power")); got != 1 {
		t.Errorf("commands_received_total = %v, want 1", got)
	}
	if _, ok := FromContext(scope.Ctx); !ok {
		t.Error("scope context carries no logger")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("bare context should carry no logger")
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "debug", Format: "json"})

	logger.NewComponentLogger("deleter").
		WithCommand("terminate", "req-9").
		WithResource("vpc-1", "vpc", "us-east-1").
		WithTrace("t1", "s1").
		Info("deleted")
	logger.Debug("visible at debug")

	out := buf.String()
	for _, want := range []string{
		`"component":"deleter"`, `"command":"terminate"`, `"request_id":"req-9"`,
		`"resource_id":"vpc-1"`, `"region":"us-east-1"`, `"trace_id":"t1"`, "visible at debug",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %s missing %s", out, want)
		}
	}
}

func TestLoggerLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingConfig{Level: "", Format: "json"})

	logger.Debug("hidden")
	logger.Info("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("empty level should default to info, got %s", buf.String())
	}
}

func TestTracerSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tracer := &Tracer{provider: provider, tracer: provider.Tracer("test")}

	ctx, cmd := tracer.StartCommandSpan(context.Background(), "terminate", "req-1")
	_, del := tracer.StartDeletionSpan(ctx, "subnet-1", "subnet", "us-east-1")
	RecordError(del, errors.New("dependency violation"))
	del.End()
	_, end := tracer.StartConfirmationSpan(ctx, "terminate", "req-1")
	end("confirmed")
	RecordSuccess(cmd)
	cmd.End()

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d, want 3", len(spans))
	}

	names := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		names[s.Name()] = s
	}
	for _, want := range []string{"command.terminate", "resource.delete", "confirm.terminate"} {
		if _, ok := names[want]; !ok {
			t.Errorf("missing span %q", want)
		}
	}
	if got := names["resource.delete"].Parent().SpanID(); got != names["command.terminate"].SpanContext().SpanID() {
		t.Error("deletion span is not a child of the command span")
	}
	if len(names["resource.delete"].Events()) == 0 {
		t.Error("deletion span has no recorded error event")
	}

	var state string
	for _, kv := range names["confirm.terminate"].Attributes() {
		if kv.Key == AttrConfirmState {
			state = kv.Value.AsString()
		}
	}
	if state != "confirmed" {
		t.Errorf("confirm.state = %q, want confirmed", state)
	}
}
