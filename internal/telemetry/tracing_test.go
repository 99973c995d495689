package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProviderStdout(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracerProvider(context.Background(), Config{
		ServiceName: "linkaudit-test",
		Exporter:    ExporterStdout,
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "audit.run")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
	require.Contains(t, buf.String(), "audit.run")
	require.Contains(t, buf.String(), "linkaudit-test")
}

func TestInitTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Config{Exporter: "zipkin"})
	require.Error(t, err)
}
