package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/starford/blackhole/internal/testutil"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "test"}, testutil.Logger())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewResource_ServiceName(t *testing.T) {
	res, err := newResource("gateway")
	require.NoError(t, err)

	v, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "gateway", v.AsString())

	res, err = newResource("")
	require.NoError(t, err)
	v, _ = res.Set().Value(semconv.ServiceNameKey)
	assert.Equal(t, "blackhole", v.AsString())
}
