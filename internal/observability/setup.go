package observability

import (
	"context"
	"os"

	"mcqgen/internal/config"

	autosdk "go.opentelemetry.io/auto/sdk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// SetupObservability initializes tracing, metrics, and logging for a service.
// The returned providers are nil when the matching signal is disabled.
func SetupObservability(cfg *config.OpenTelemetryConfig, serviceName string) (result0 trace.TracerProvider, result1 *metric.MeterProvider, result2 *Logger, err error) {
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}

	var tp trace.TracerProvider
	var mp *metric.MeterProvider

	if err := os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName); err != nil {
		return nil, nil, nil, err
	}
	if err := os.Setenv("OTEL_SERVICE_VERSION", cfg.ServiceVersion); err != nil {
		return nil, nil, nil, err
	}

	logger := NewLogger(cfg)

	if cfg.EnableTracing {
		if cfg.UseAutoSDK {
			tp = autosdk.TracerProvider()
		} else {
			tp, err = InitStandardTracing(cfg)
			if err != nil {
				return nil, nil, logger, err
			}
		}
		otel.SetTracerProvider(tp)
		InitTracing(cfg)
		InitGlobalTracer()

		logger.Info(context.Background(), "Tracing enabled", map[string]interface{}{
			"service_name": cfg.ServiceName,
			"auto_sdk":     cfg.UseAutoSDK,
		})
	}

	if cfg.EnableMetrics {
		mp, err = InitMetrics(cfg)
		if err != nil {
			return tp, nil, logger, err
		}
		otel.SetMeterProvider(mp)
	}

	return tp, mp, logger, nil
}

// ShutdownProviders flushes the providers returned by SetupObservability and
// the logger. Nil providers are skipped.
func ShutdownProviders(ctx context.Context, tp trace.TracerProvider, mp *metric.MeterProvider, logger *Logger) {
	if s, ok := tp.(interface{ Shutdown(context.Context) error }); ok && tp != nil {
		if err := s.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "Error shutting down tracer provider", map[string]interface{}{"error": err.Error(), "provider": "tracer"})
		}
	}
	if mp != nil {
		if err := mp.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "Error shutting down meter provider", map[string]interface{}{"error": err.Error(), "provider": "meter"})
		}
	}
	_ = logger.Sync()
}
