package affinity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureReturnsNonZeroID(t *testing.T) {
	assert.NotZero(t, Capture())
}

func TestGuardDisabledAlwaysChecksTrue(t *testing.T) {
	g := NewGuard(false)
	assert.True(t, g.Check())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, g.Check())
	}()
	wg.Wait()
}

func TestGuardEnabledPassesFromOwningGoroutine(t *testing.T) {
	g := NewGuard(true)
	assert.True(t, g.Check())
}

func TestGuardEnabledFailsFromOtherGoroutine(t *testing.T) {
	g := NewGuard(true)

	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		ok = g.Check()
	}()
	wg.Wait()
	assert.False(t, ok)
}
