package logger_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/statetrail/common/logger"
)

var _ = Describe("StartSpanFromTraceID", func() {
	var previous trace.TracerProvider

	BeforeEach(func() {
		previous = otel.GetTracerProvider()
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
	})

	AfterEach(func() {
		otel.SetTracerProvider(previous)
	})

	It("joins the forwarded trace id", func() {
		sc := logger.StartSpanFromTraceID(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "webhook.linear")
		defer sc.End()

		Expect(sc.TraceID()).To(Equal("4bf92f3577b34da6a3ce929d0e0e4736"))
	})

	It("accepts a hyphenated uuid", func() {
		sc := logger.StartSpanFromTraceID(context.Background(), "4BF92F35-77B3-4DA6-A3CE-929D0E0E4736", "webhook.linear")
		defer sc.End()

		Expect(sc.TraceID()).To(Equal("4bf92f3577b34da6a3ce929d0e0e4736"))
	})

	It("starts a fresh root for garbage", func() {
		sc := logger.StartSpanFromTraceID(context.Background(), "not-a-trace", "webhook.linear")
		defer sc.End()

		Expect(sc.TraceID()).NotTo(BeEmpty())
		Expect(sc.TraceID()).NotTo(Equal("not-a-trace"))
	})

	It("prefers a parent already on the context", func() {
		parent := logger.StartSpan(context.Background(), "http.request")
		defer parent.End()

		sc := logger.StartSpanFromTraceID(parent.Context(), "4bf92f3577b34da6a3ce929d0e0e4736", "webhook.linear")
		defer sc.End()

		Expect(sc.TraceID()).To(Equal(parent.TraceID()))
	})
})
