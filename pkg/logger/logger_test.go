package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_New(t *testing.T) {
	t.Run("Should write structured keyvals to the configured output", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: DebugLevel, Output: &buf})
		log.Info("workflow registered", "workflow", "order-sync")
		out := buf.String()
		assert.Contains(t, out, "workflow registered")
		assert.Contains(t, out, "order-sync")
	})

	t.Run("Should suppress entries below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: ErrorLevel, Output: &buf})
		log.Info("hidden")
		log.Error("visible")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("Should emit JSON when configured", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})
		log.Info("hello", "k", "v")
		require.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
	})
}

func TestLogger_Context(t *testing.T) {
	t.Run("Should round-trip a logger through the context", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf})
		ctx := ContextWithLogger(context.Background(), log)
		FromContext(ctx).Info("from context")
		assert.Contains(t, buf.String(), "from context")
	})

	t.Run("Should return a usable default for a bare context", func(t *testing.T) {
		log := FromContext(context.Background())
		require.NotNil(t, log)
	})

	t.Run("Should carry With fields forward", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf}).With("component", "watcher")
		log.Info("tick")
		assert.Contains(t, buf.String(), "watcher")
	})
}
