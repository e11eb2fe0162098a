package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracingWithoutEndpoint(t *testing.T) {
	t.Parallel()

	shutdown, err := InitTracing(context.Background(), Config{ServiceName: "aggtube-harvester-test", SampleRatio: 1})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "probe")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
}
