package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestClock(t *testing.T) {
	tests := []struct {
		name  string
		clock *Clock
		want  []int64
	}{
		{"from zero", NewClock(), []int64{1, 2, 3}},
		{"continues a stored run", NewClockAt(41), []int64{42, 43}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int64
			for range tt.want {
				got = append(got, tt.clock.Next())
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want[len(tt.want)-1], tt.clock.Current())
		})
	}
}

func TestClock_ConcurrentNextIsUnique(t *testing.T) {
	const workers, calls = 16, 200
	c := NewClock()

	results := make([][]int64, workers)
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			for range calls {
				results[w] = append(results[w], c.Next())
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int64]bool, workers*calls)
	for _, seqs := range results {
		for _, seq := range seqs {
			assert.False(t, seen[seq], "seq %d handed out twice", seq)
			seen[seq] = true
		}
	}
	assert.Len(t, seen, workers*calls)
	assert.Equal(t, int64(workers*calls), c.Current())
}
