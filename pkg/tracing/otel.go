// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartTurnSpan 开始 Turn 编排 span
func StartTurnSpan(ctx context.Context, turnID string, tenantID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("cochat")
	ctx, span := tracer.Start(ctx, "turn.orchestrate",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("tenant.id", tenantID),
		),
	)
	return ctx, span
}

// StartStageSpan 开始 Turn 单阶段 span（retrieval/selection/generation/delivery）
func StartStageSpan(ctx context.Context, stage string, turnID string) (context.Context, trace.Span) {
	tracer := otel.Tracer("cochat")
	ctx, span := tracer.Start(ctx, "turn."+stage,
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
		),
	)
	return ctx, span
}

// StartDeliverySpan 开始 Webhook 投递 span
func StartDeliverySpan(ctx context.Context, turnID string, endpoint string) (context.Context, trace.Span) {
	tracer := otel.Tracer("cochat")
	ctx, span := tracer.Start(ctx, "delivery.webhook",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("delivery.endpoint", endpoint),
		),
	)
	return ctx, span
}
