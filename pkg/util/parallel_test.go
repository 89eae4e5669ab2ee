package util

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelRunsEveryInput(t *testing.T) {
	var seen atomic.Int64
	inputs := []int{1, 2, 3, 4, 5, 6, 7}

	err := Parallel(context.Background(), inputs, 3, func(_ context.Context, n int) error {
		seen.Add(int64(n))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(28), seen.Load())
}

func TestParallelJoinsErrors(t *testing.T) {
	bad := errors.New("bad")
	var calls atomic.Int64

	err := Parallel(context.Background(), []string{"a", "b", "c"}, 2, func(_ context.Context, s string) error {
		calls.Add(1)
		if s != "b" {
			return fmt.Errorf("%s: %w", s, bad)
		}
		return nil
	})
	require.ErrorIs(t, err, bad)
	assert.Equal(t, int64(3), calls.Load())
}

func TestSum(t *testing.T) {
	assert.Equal(t, 10, Sum([]int{1, 2, 3, 4}))
	assert.Equal(t, 0, Sum[int](nil))
}
