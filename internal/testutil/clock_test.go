package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtEpoch(t *testing.T) {
	clock := NewStepClock(0)
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, int64(2), clock.Calls())
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(time.Millisecond)
	clock.Now()
	clock.Now()
	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(time.Microsecond)
	const goroutines = 50
	const calls = 100

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls, "every reading is distinct")
}

func TestSequenceUUIDGenerator(t *testing.T) {
	g := NewSequenceUUIDGenerator("")
	first := g.Generate()
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", first)
	assert.Equal(t, "00000000-0000-4000-8000-000000000002", g.Generate())

	_, err := uuid.Parse(first)
	require.NoError(t, err)

	g.Reset()
	assert.Equal(t, first, g.Generate())

	other := NewSequenceUUIDGenerator("abc")
	assert.Equal(t, "abc00000-0000-4000-8000-000000000001", other.Generate())
}
