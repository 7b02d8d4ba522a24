package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_AfterAdvancesAndRecords(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	fired := <-c.After(2 * time.Second)
	assert.Equal(t, start.Add(2*time.Second), fired)

	<-c.After(3 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), c.Now())
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, c.Waits())
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(time.Hour)

	assert.Equal(t, start.Add(time.Hour), c.Now())
	assert.Empty(t, c.Waits())
}

func TestRealClock_After(t *testing.T) {
	c := NewRealClock()
	before := c.Now()

	<-c.After(5 * time.Millisecond)

	assert.GreaterOrEqual(t, time.Since(before), 5*time.Millisecond)
}
