package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestEffortIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	out := BestEffort(context.Background(), nil, "harvest", []string{"a", "b", "c", "d"},
		func(_ context.Context, k string) (int, error) {
			switch k {
			case "b":
				return 0, boom
			case "c":
				panic("adapter bug")
			}
			return len(k), nil
		})

	require.Len(t, out.Results, 4)
	ok := out.Succeeded()
	require.Len(t, ok, 2)
	assert.Equal(t, "a", ok[0].Key)
	assert.Equal(t, "d", ok[1].Key)

	failed := out.Failed()
	require.Len(t, failed, 2)
	assert.ErrorIs(t, failed[0].Err, boom)
	assert.Contains(t, failed[1].Err.Error(), "panic")
}
