// internal/browser/session_internal_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rtsm-probe/internal/browser/probe"
	"github.com/xkilldash9x/rtsm-probe/internal/config"
)

func TestSession_SlowMotionPacing(t *testing.T) {
	cfg := config.NewDefaultConfig()

	t.Run("disabled by default", func(t *testing.T) {
		s := newSession(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Nil(t, s.pacer)
		assert.NoError(t, s.pace(context.Background()))
	})

	t.Run("spaces consecutive actions", func(t *testing.T) {
		slow := *cfg
		slow.Browser.SlowMo = 100 * time.Millisecond
		s := newSession(context.Background(), &slow, zaptest.NewLogger(t))
		require.NotNil(t, s.pacer)

		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.pace(context.Background()))
		}
		// The first action is free; the next two wait one interval each.
		assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
	})
}

func TestSession_UninitializedRejectsActions(t *testing.T) {
	s := newSession(context.Background(), config.NewDefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := s.URL(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)

	m := s.Find(ctx, probe.MustSet("email", "#email"))
	assert.Equal(t, probe.Errored, m.Status)

	err = s.Click(ctx, probe.Match{Status: probe.NotFound, Index: -1})
	assert.Error(t, err, "clicking a missing element must fail")
	assert.NoError(t, s.Close(ctx))
}
