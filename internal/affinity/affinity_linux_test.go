//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/aether/pkg/errors"
)

func TestPinRestrictsThread(t *testing.T) {
	allowed, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, allowed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		// the thread is discarded when the goroutine exits locked

		require.NoError(t, Pin(allowed[0]))
		got, err := Current()
		require.NoError(t, err)
		assert.Equal(t, []int{allowed[0]}, got)
	}()
	<-done
}

func TestPinRejectsOutOfRange(t *testing.T) {
	err := Pin(runtime.NumCPU())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Error(t, Pin(-1))
}
