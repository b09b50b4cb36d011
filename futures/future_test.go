package futures_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/loopwire/futures"
)

func TestFutureSetResult(t *testing.T) {
	f := futures.New(nil)
	require.NoError(t, f.SetResult(42))

	assert.Equal(t, futures.Resulted, f.State())
	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFutureSetExceptionAfterResultFails(t *testing.T) {
	f := futures.New(nil)
	require.NoError(t, f.SetResult("first"))
	assert.Error(t, f.SetException(assertErr))
}

func TestFutureCancelOnlyEffectiveOnce(t *testing.T) {
	f := futures.New(nil)
	assert.True(t, f.Cancel())
	assert.False(t, f.Cancel())
	assert.Equal(t, futures.Cancelled, f.State())
}

func TestFutureAwaitBlocksUntilDone(t *testing.T) {
	f := futures.New(nil)
	done := make(chan struct{})
	go func() {
		v, err := f.Await()
		assert.NoError(t, err)
		assert.Equal(t, "value", v)
		close(done)
	}()

	require.NoError(t, f.SetResult("value"))
	<-done
}

func TestFutureAddDoneCallbackAfterCompletionRunsImmediately(t *testing.T) {
	f := futures.New(nil)
	require.NoError(t, f.SetResult(1))

	called := make(chan struct{})
	f.AddDoneCallback(func(*futures.Future) { close(called) })
	<-called
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
