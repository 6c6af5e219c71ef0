// Package telemetry provides the observability stack shared by the daemon's
// components: structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
// Initialize telemetry once at process start and pass it down:
//
//	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Components take a zerolog.Logger derived from the wrapper:
//
//	logger := tel.Logger.NewComponentLogger("dispatcher").Zerolog()
//
// # Commands
//
// Every command handler runs inside a CommandScope, which owns the
// command.<type> span, a request-scoped logger and the command metrics:
//
//	scope := tel.StartCommand(ctx, "terminate", requestID)
//	defer scope.End(status, err)
//
// # Provider Calls
//
// Provider adapters wrap each SDK call so it gets a provider.<op> span and
// is counted in provider_calls_total and provider_errors_total:
//
//	err := tel.ObserveProviderCall(ctx, "aws", "DeleteVpc", func(ctx context.Context) error {
//	    _, err := client.DeleteVpc(ctx, input)
//	    return err
//	})
//
// # Metrics
//
// All metrics live in a private registry under the configured namespace
// (default "pockitect"). The admin API mounts Metrics.Handler at /metrics.
// Recorders are nil-safe, so a disabled Metrics can be passed anywhere.
//
// # Configuration
//
//	cfg := telemetry.DevelopmentConfig() // debug logs, stdout traces
//	cfg := telemetry.ProductionConfig()  // JSON logs, OTLP traces, 10% sampling
//
// Supported exporters: otlp (gRPC), stdout, none.
package telemetry
