package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(Config{ServiceName: "deployer", ServiceVersion: "test", Stdout: true, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "sample-span")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "sample-span")
	assert.Contains(t, buf.String(), "deployer")
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
