package stop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalLifecycle(t *testing.T) {
	s := New()
	assert.False(t, s.IsSet())

	s.Request()
	assert.True(t, s.IsSet())

	s.Request()
	assert.True(t, s.IsSet())

	s.Clear()
	assert.False(t, s.IsSet())
}

func TestSignalConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Request()
		}()
		go func() {
			defer wg.Done()
			_ = s.IsSet()
		}()
	}
	wg.Wait()
	assert.True(t, s.IsSet())
}
