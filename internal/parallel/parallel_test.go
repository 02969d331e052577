package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForCoversEveryIndexOnce(t *testing.T) {
	cfgs := map[string]Config{
		"sequential": {},
		"parallel":   {Enabled: true, NumWorkers: 4, MinChunkSize: 1},
		"default":    DefaultConfig(),
	}

	for name, cfg := range cfgs {
		t.Run(name, func(t *testing.T) {
			n := 10_000
			hits := make([]int32, n)
			For(n, func(i int) {
				atomic.AddInt32(&hits[i], 1)
			}, cfg)

			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times", i, h)
				}
			}
		})
	}
}

func TestForRangeChunksAreDisjoint(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 8, MinChunkSize: 16}
	n := 1000

	var total atomic.Int64
	ForRange(n, func(start, end int) {
		assert.Less(t, start, end)
		total.Add(int64(end - start))
	}, cfg)
	assert.Equal(t, int64(n), total.Load(), "chunks must cover [0, n) exactly")
}

func TestForRangeEmpty(t *testing.T) {
	called := false
	ForRange(0, func(start, end int) { called = true }, DefaultConfig())
	assert.False(t, called, "no work for n=0")
}

func TestForRangeSmallFallsBackToSequential(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 100}

	var calls int
	ForRange(10, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	}, cfg)
	assert.Equal(t, 1, calls, "below MinChunkSize runs as one range")
}
