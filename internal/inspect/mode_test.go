package inspect

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMode_ToggleSequence(t *testing.T) {
	m := NewMode()

	assert.False(t, m.IsInspecting("alice"))
	assert.True(t, m.Toggle("alice"))
	assert.True(t, m.IsInspecting("alice"))
	assert.False(t, m.Toggle("alice"))
	assert.False(t, m.IsInspecting("alice"))
	assert.True(t, m.Toggle("alice"))
	assert.True(t, m.IsInspecting("alice"))

	assert.False(t, m.IsInspecting("bob"))
	assert.Equal(t, 1, m.Count())
}

func TestMode_ConcurrentToggles(t *testing.T) {
	m := NewMode()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Toggle("alice")
			_ = m.IsInspecting("alice")
		}()
	}
	wg.Wait()

	// an even number of toggles leaves the actor out
	assert.False(t, m.IsInspecting("alice"))
}
