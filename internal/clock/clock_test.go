package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFake_AfterAdvancesAndFires verifies that waiting moves simulated time
func TestFake_AfterAdvancesAndFires(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	select {
	case got := <-f.After(3 * time.Second):
		assert.Equal(t, start.Add(3*time.Second), got)
	default:
		t.Fatal("After should fire immediately")
	}

	assert.Equal(t, start.Add(3*time.Second), f.Now())
	require.Len(t, f.Waits(), 1)
	assert.Equal(t, 3*time.Second, f.Waits()[0])
}

// TestFake_NegativeWaitDoesNotRewind verifies the clock is monotonic
func TestFake_NegativeWaitDoesNotRewind(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	<-f.After(-time.Second)
	assert.Equal(t, start, f.Now())

	f.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), f.Now())
}

// TestSystem_Now verifies the wall clock is close to time.Now
func TestSystem_Now(t *testing.T) {
	c := New()
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
}
