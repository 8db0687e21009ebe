package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadscribe/internal/event"
)

func TestDispatcherSerializesPerThread(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.router, 16)
	defer d.Close()
	ctx := context.Background()

	// two events for the same thread: the second must observe the state the
	// first left behind, which only holds under FIFO processing
	first, err := d.Submit(ctx, msg("ev-1", "summarize this thread please"))
	require.NoError(t, err)
	second, err := d.Submit(ctx, msg("ev-2", "thanks, looks good"))
	require.NoError(t, err)

	out1 := <-first
	require.NoError(t, out1.Err)
	assert.Equal(t, event.DecisionClassified, out1.Decision.Kind)

	out2 := <-second
	require.NoError(t, out2.Err)
	assert.Contains(t, out2.Decision.Response.Text, "Review saved")
}

func TestDispatcherParallelAcrossThreads(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.router, 16)
	defer d.Close()
	ctx := context.Background()

	chans := make([]<-chan Outcome, 0, 8)
	for i := 0; i < 8; i++ {
		ev := msg(fmt.Sprintf("ev-%d", i), "create a ticket for login bug")
		ev.ThreadID = fmt.Sprintf("thr-%d", i)
		ch, err := d.Submit(ctx, ev)
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	for _, ch := range chans {
		out := <-ch
		require.NoError(t, out.Err)
		assert.Equal(t, event.DecisionClassified, out.Decision.Kind)
	}
}

func TestDispatcherClosedRejectsSubmit(t *testing.T) {
	f := newFixture(t)
	d := NewDispatcher(f.router, 16)
	d.Close()

	_, err := d.Submit(context.Background(), msg("ev-1", "hello"))
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}
