package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "mcqgen"

var globalTracer trace.Tracer

// InitGlobalTracer initializes the global tracer for the application.
func InitGlobalTracer() {
	globalTracer = otel.Tracer(tracerName)
}

// GetGlobalTracer returns the global tracer instance for the application.
func GetGlobalTracer() trace.Tracer {
	if globalTracer == nil {
		globalTracer = otel.Tracer(tracerName)
	}
	return globalTracer
}

// TraceFunction starts a new span named "<service>.<function>".
func TraceFunction(ctx context.Context, serviceName, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetGlobalTracer()
	spanName := fmt.Sprintf("%s.%s", serviceName, functionName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attributes...))
}

// TraceGenerationFunction starts a span for the generation pipeline.
func TraceGenerationFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "generation", functionName, attributes...)
}

// TraceOracleFunction starts a span for a completion oracle call.
func TraceOracleFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "oracle", functionName, attributes...)
}

// TraceQuizFunction starts a span for quiz grading and reads.
func TraceQuizFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "quiz", functionName, attributes...)
}

// TraceUserFunction starts a span for a user service function.
func TraceUserFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "user", functionName, attributes...)
}

// TraceWorkerFunction starts a span for background verification work.
func TraceWorkerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "worker", functionName, attributes...)
}

// TraceHandlerFunction starts a span for a handler function.
func TraceHandlerFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "handler", functionName, attributes...)
}

// TraceDatabaseFunction starts a span for a store function.
func TraceDatabaseFunction(ctx context.Context, functionName string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return TraceFunction(ctx, "database", functionName, attributes...)
}

// AttributeUserID returns a tracing attribute for a user ID.
func AttributeUserID(id int) attribute.KeyValue {
	return attribute.Int("user.id", id)
}

// AttributeQuizID returns a tracing attribute for a quiz ID.
func AttributeQuizID(id string) attribute.KeyValue {
	return attribute.String("quiz.id", id)
}

// AttributeDifficulty returns a tracing attribute for a difficulty label.
func AttributeDifficulty(d fmt.Stringer) attribute.KeyValue {
	return attribute.String("difficulty", d.String())
}

// AttributeCount returns a tracing attribute for a requested item count.
func AttributeCount(n int) attribute.KeyValue {
	return attribute.Int("count", n)
}

// AttributeProvider returns a tracing attribute for an oracle provider.
func AttributeProvider(name string) attribute.KeyValue {
	return attribute.String("oracle.provider", name)
}
