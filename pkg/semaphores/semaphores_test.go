package semaphores_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brickingsoft/ringloop/pkg/semaphores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_Signal(t *testing.T) {
	s := semaphores.New[int](0)
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := s.Wait(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 7, v)
	}()
	assert.True(t, s.Signal(7))
	assert.False(t, s.Signal(8))
	wg.Wait()
}

func TestSemaphore_Cancel(t *testing.T) {
	s := semaphores.New[struct{}](0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	// a late signal never blocks
	assert.True(t, s.Signal(struct{}{}))
}

func TestSemaphore_Timeout(t *testing.T) {
	s := semaphores.New[bool](10 * time.Millisecond)
	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, semaphores.ErrTimeout)
}
