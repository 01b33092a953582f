package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEnqueuer struct{ n atomic.Int32 }

func (c *countingEnqueuer) EnqueueOddsSync(context.Context) error {
	c.n.Add(1)
	return nil
}

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every ten minutes", &countingEnqueuer{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNewScheduler_AcceptsCronAndDescriptor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, spec := range []string{"@every 10m", "0 */5 * * * *", "@hourly"} {
		c, err := NewScheduler(spec, &countingEnqueuer{}, logger)
		require.NoError(t, err, spec)
		assert.Len(t, c.Entries(), 1, spec)
	}
}

func TestNewScheduler_EnqueuesOnTick(t *testing.T) {
	q := &countingEnqueuer{}
	c, err := NewScheduler("@every 1s", q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool { return q.n.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
}
