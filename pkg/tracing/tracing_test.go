package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewSampler(t *testing.T) {
	tests := []struct {
		cfg     SamplerConfig
		want    string
		wantErr bool
	}{
		{cfg: SamplerConfig{}, want: "AlwaysOnSampler"},
		{cfg: SamplerConfig{Type: "never"}, want: "AlwaysOffSampler"},
		{cfg: SamplerConfig{Type: "ratio", Ratio: 0.5}, want: "TraceIDRatioBased{0.5}"},
		{cfg: SamplerConfig{Type: "parent"}, want: "ParentBased{root:AlwaysOnSampler"},
		{cfg: SamplerConfig{Type: "ratio", Ratio: 1.5}, wantErr: true},
		{cfg: SamplerConfig{Type: "sometimes"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Type, func(t *testing.T) {
			s, err := NewSampler(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, s.Description(), tt.want)
		})
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{}, "mailroute")
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func TestFail(t *testing.T) {
	rec := withRecorder(t)

	_, ok := GetTracer("test").Start(context.Background(), "ok")
	Fail(ok, nil)
	ok.End()

	_, bad := GetTracer("test").Start(context.Background(), "bad")
	Fail(bad, errors.New("queue down"))
	bad.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "queue down", spans[1].Status().Description)
}

func TestConsumerSpanContinuesProducerTrace(t *testing.T) {
	rec := withRecorder(t)

	ctx, producer := GetTracer("test").Start(context.Background(), "publish")
	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "tenant", Value: []byte("acme")}})
	producer.End()

	_, consumer := StartConsumerSpan(context.Background(), kafka.Message{
		Topic:     "inbound_records",
		Partition: 2,
		Offset:    42,
		Headers:   headers,
	})
	consumer.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.Equal(t, "inbound_records receive", spans[1].Name())
}

func TestIsPropagationHeader(t *testing.T) {
	assert.True(t, IsPropagationHeader("traceparent"))
	assert.True(t, IsPropagationHeader("Baggage"))
	assert.False(t, IsPropagationHeader("tenant"))
}

func TestGinMiddlewareSkipsProbes(t *testing.T) {
	rec := withRecorder(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(GinMiddleware("mailroute"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/rules", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/api/v1/rules"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Name(), "/api/v1/rules")
}
