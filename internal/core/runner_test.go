package core_test

import (
	"MetLev/internal/amm"
	"MetLev/internal/core"
	"MetLev/internal/errs"
	"MetLev/internal/event"
	"MetLev/internal/oracle"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_SubmitAndView(t *testing.T) {
	c := newCore(amm.NewSimulator(simConfig()), core.DefaultConfig().Policy)
	r := core.NewRunner(c, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	admin := uuid.New()
	receipt, err := r.Submit(ctx, &event.ProtocolInitialized{RequestID: uuid.New(), Authority: admin, Timestamp: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.Sequence)

	_, err = r.Submit(ctx, &event.PauseSet{RequestID: uuid.New(), Signer: uuid.New(), Paused: true, Timestamp: 2})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = r.Submit(ctx, &event.PauseSet{RequestID: uuid.New(), Signer: admin, Paused: true, Timestamp: 3})
	require.NoError(t, err)

	view, err := r.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Sequence)
	assert.True(t, view.Paused)
	assert.Nil(t, view.Pool)
	assert.Empty(t, view.Positions)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	_, err = r.Submit(context.Background(), &event.PauseSet{RequestID: uuid.New(), Signer: admin, Timestamp: 4})
	assert.ErrorIs(t, err, core.ErrRunnerStopped)
}

func TestView_Liquidatable(t *testing.T) {
	w := newWorld(t)
	w.open()

	view := w.core.View()
	require.Len(t, view.Positions, 1)
	require.NotNil(t, view.Pool)

	reader := oracleReader(view)
	candidates, failed := view.Liquidatable(context.Background(), reader, w.now)
	assert.Empty(t, candidates)
	assert.Empty(t, failed)

	w.setPrice(50_000_000)
	view = w.core.View()
	candidates, failed = view.Liquidatable(context.Background(), oracleReader(view), w.now)
	require.Len(t, candidates, 1)
	assert.Empty(t, failed)
	assert.Equal(t, w.user, candidates[0].Position.Owner)
	assert.GreaterOrEqual(t, candidates[0].Health.LTV, uint64(8_000))

	// past the feed's age budget every position fails to price
	candidates, failed = view.Liquidatable(context.Background(), oracleReader(view), w.now+120)
	assert.Empty(t, candidates)
	assert.Len(t, failed, 1)
}

func oracleReader(v *core.View) *oracle.Reader {
	return oracle.NewReader(v.Feeds)
}
