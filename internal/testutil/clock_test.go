package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSteppingTime_Advances(t *testing.T) {
	c := NewSteppingTime(time.Time{}, time.Millisecond)

	assert.Equal(t, DefaultBase, c.Now())
	assert.Equal(t, DefaultBase.Add(time.Millisecond), c.Now())
	assert.Equal(t, int64(2), c.Calls())

	c.Reset()
	assert.Equal(t, DefaultBase, c.Now())
}

func TestSteppingTime_ThreadSafe(t *testing.T) {
	c := NewSteppingTime(time.Time{}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), c.Calls())
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "run-1", NewFixedIDGenerator("run-1").Generate())
	assert.Equal(t, "test-execution-default", NewFixedIDGenerator("").Generate())
}
