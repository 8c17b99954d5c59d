package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Future_Set(t *testing.T) {
	f := NewFuture[int]()
	require.False(t, f.Ready())

	require.NoError(t, f.Set(42, nil))
	require.True(t, f.Ready())

	require.Error(t, f.Set(23, nil))
}

func Test_Future_GetBlocksUntilSet(t *testing.T) {
	f := NewFuture[int]()

	var v int
	var err error

	c := NewCoroutine(Background(), func(ctx Context) {
		v, err = f.Get(ctx)
	})

	c.Execute()
	require.True(t, c.Blocked())
	require.False(t, c.Progress())

	require.NoError(t, f.Set(42, nil))

	c.Execute()
	require.True(t, c.Finished())
	require.Equal(t, 42, v)
	require.NoError(t, err)
}

func Test_Future_Error(t *testing.T) {
	f := NewFuture[string]()
	require.NoError(t, f.Set("", errors.New("failed")))

	var err error

	c := NewCoroutine(Background(), func(ctx Context) {
		_, err = f.Get(ctx)
	})

	c.Execute()
	require.True(t, c.Finished())
	require.EqualError(t, err, "failed")
}
