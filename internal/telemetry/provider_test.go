package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Run("noop when endpoint empty", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), Config{ServiceName: "test", Enabled: true})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("noop when disabled", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), Config{
			ServiceName: "test",
			Endpoint:    "http://localhost:4318",
			Enabled:     false,
		})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("noop shutdown ignores cancelled context", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), Config{ServiceName: "test"})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, shutdown(ctx))
	})

	t.Run("creates provider when endpoint set", func(t *testing.T) {
		// Non-routable address so nothing is exported.
		shutdown, err := Setup(context.Background(), Config{
			ServiceName: "test",
			Endpoint:    "http://192.0.2.1:4318",
			Enabled:     true,
		})
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})
}
