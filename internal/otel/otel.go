// Package otel turns cache events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches subscribers to b.
// If endpoint is empty, no telemetry is configured.
func Setup(b *eventbus.Bus, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Register(b, tp.Tracer("graphcache"))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type subscriber struct {
	tracer       trace.Tracer
	httpSpans    sync.Map // request ID -> trace.Span
	fetchSpans   sync.Map // fetch ID -> trace.Span
	writeSpans   sync.Map // write ID -> trace.Span
	collectSpans sync.Map // collection ID -> trace.Span
}

// Register records spans for the events published on b with tracer. The
// returned function detaches the subscribers.
func Register(b *eventbus.Bus, tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register(b)
}

// parent links a span to the HTTP request it runs for, if any.
func (s *subscriber) parent(ctx context.Context) context.Context {
	if rid, ok := reqid.FromContext(ctx); ok {
		if v, ok := s.httpSpans.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(spans *sync.Map, key any, err error, attrs ...attribute.KeyValue) {
	v, ok := spans.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register(b *eventbus.Bus) func() {
	unsubscribers := []func(){
		eventbus.On(b, func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				semconv.HTTPRouteKey.String(e.Route),
				attribute.String("http.target", e.Request.URL.Path),
			)
			s.httpSpans.Store(rid, span)
		}),
		eventbus.On(b, func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.httpSpans, rid, nil, semconv.HTTPStatusCodeKey.Int(e.Status))
		}),

		eventbus.On(b, func(ctx context.Context, e events.FetchStart) {
			_, span := s.tracer.Start(s.parent(ctx), "graphcache.fetch")
			span.SetAttributes(
				attribute.String("graphcache.query", e.Query),
				attribute.String("graphcache.remainder", e.Remainder),
			)
			s.fetchSpans.Store(e.ID, span)
		}),
		eventbus.On(b, func(ctx context.Context, e events.FetchFinish) {
			end(&s.fetchSpans, e.ID, e.Err)
		}),

		eventbus.On(b, func(ctx context.Context, e events.WriteStart) {
			_, span := s.tracer.Start(s.parent(ctx), "graphcache.write")
			span.SetAttributes(
				attribute.String("graphcache.root", e.Root),
				attribute.Bool("graphcache.optimistic", e.Optimistic),
			)
			s.writeSpans.Store(e.ID, span)
		}),
		eventbus.On(b, func(ctx context.Context, e events.WriteFinish) {
			end(&s.writeSpans, e.ID, e.Err,
				attribute.Int("graphcache.created", e.Created),
				attribute.Int("graphcache.updated", e.Updated),
			)
		}),

		eventbus.On(b, func(ctx context.Context, e events.CollectStart) {
			_, span := s.tracer.Start(s.parent(ctx), "graphcache.collect")
			span.SetAttributes(attribute.String("graphcache.from_node", e.FromNode))
			s.collectSpans.Store(e.ID, span)
		}),
		eventbus.On(b, func(ctx context.Context, e events.CollectFinish) {
			end(&s.collectSpans, e.ID, e.Err, attribute.Int("graphcache.removed", e.Removed))
		}),
	}
	return func() {
		for _, fn := range unsubscribers {
			fn()
		}
	}
}
