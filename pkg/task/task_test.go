package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskResultAfterCompletion(t *testing.T) {
	tsk := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	v, err := tsk.Result()
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.True(t, tsk.IsDone())
}

func TestTaskCancelAndWaitTimesOutOnStuckWork(t *testing.T) {
	tsk := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return 0, ctx.Err()
	})
	ok := tsk.CancelAndWait(5 * time.Millisecond)
	require.False(t, ok)
}

func TestTaskCancelAndWaitSucceedsWhenCooperative(t *testing.T) {
	tsk := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 7, ctx.Err()
	})
	ok := tsk.CancelAndWait(time.Second)
	require.True(t, ok)
	v, err := tsk.Result()
	require.Error(t, err)
	require.Equal(t, 7, v)
}

func TestFutureResolveIsIdempotent(t *testing.T) {
	f := NewFuture[string]()
	f.Resolve("first")
	f.Resolve("second")
	f.Reject(errors.New("ignored"))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", v)
}

func TestFutureAwaitRespectsContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitGroupTracksEmptiness(t *testing.T) {
	wg := NewWaitGroup()
	require.True(t, wg.Empty())

	wg.Add("a")
	require.False(t, wg.Empty())

	wg.Add("b")
	wg.Remove("a")
	require.False(t, wg.Empty())

	wg.Remove("b")
	require.True(t, wg.Empty())
}

func TestWaitGroupChangedWakesOnMutation(t *testing.T) {
	wg := NewWaitGroup()
	ch := wg.Changed()

	go func() {
		time.Sleep(5 * time.Millisecond)
		wg.Add("x")
	}()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed() never fired")
	}
}

func TestCombineSignalsFiresOnAnyParent(t *testing.T) {
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	combined, stop := CombineSignals(context.Background(), ctx1, ctx2)
	defer stop()

	cancel1()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context never cancelled")
	}
}

func TestCancelAndWaitAllAbandonsAfterTimeout(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	start := time.Now()
	CancelAndWaitAll(cancel, 20*time.Millisecond, func() {
		time.Sleep(time.Second)
	})
	require.Less(t, time.Since(start), 200*time.Millisecond)
}
