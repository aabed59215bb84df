package timers_test

import (
	"testing"
	"time"

	"github.com/brickingsoft/ringloop/pkg/liburing/aio/timers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Order(t *testing.T) {
	q := timers.New()
	base := time.Now()
	fired := make([]string, 0, 3)

	_, earliest := q.Add(timers.NewTimer(func() { fired = append(fired, "c") }, base.Add(3*time.Millisecond), 0))
	assert.True(t, earliest)
	_, earliest = q.Add(timers.NewTimer(func() { fired = append(fired, "a") }, base.Add(time.Millisecond), 0))
	assert.True(t, earliest)
	_, earliest = q.Add(timers.NewTimer(func() { fired = append(fired, "b") }, base.Add(time.Millisecond), 0))
	assert.False(t, earliest)

	deadline, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Millisecond), deadline)

	assert.Equal(t, 0, q.Expire(base))
	assert.Equal(t, 2, q.Expire(base.Add(2*time.Millisecond)))
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, q.Expire(base.Add(time.Hour)))
	assert.Equal(t, []string{"a", "b", "c"}, fired)

	_, ok = q.NextDeadline()
	assert.False(t, ok)
}

func TestQueue_CancelBeforeDeadline(t *testing.T) {
	q := timers.New()
	base := time.Now()
	aFired, bFired := 0, 0

	a, _ := q.Add(timers.NewTimer(func() { aFired++ }, base.Add(time.Millisecond), 0))
	q.Add(timers.NewTimer(func() { bFired++ }, base.Add(time.Millisecond+time.Nanosecond), 0))
	q.Cancel(a)

	assert.Equal(t, 1, q.Expire(base.Add(time.Second)))
	assert.Equal(t, 0, aFired)
	assert.Equal(t, 1, bFired)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_SelfCancelRepeating(t *testing.T) {
	q := timers.New()
	now := time.Now()
	const n = 3
	fired := 0
	var id timers.ID
	id, _ = q.Add(timers.NewTimer(func() {
		fired++
		if fired == n {
			q.Cancel(id)
		}
	}, now.Add(time.Millisecond), time.Millisecond))

	for i := 0; i < 10; i++ {
		now = now.Add(time.Millisecond)
		q.Expire(now)
	}
	assert.Equal(t, n, fired)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_CancelSiblingDuringSweep(t *testing.T) {
	q := timers.New()
	now := time.Now()
	siblingFired := 0
	var sibling timers.ID
	sibling, _ = q.Add(timers.NewTimer(func() { siblingFired++ }, now.Add(time.Millisecond), time.Millisecond))
	q.Add(timers.NewTimer(func() { q.Cancel(sibling) }, now.Add(time.Millisecond), 0))

	now = now.Add(time.Millisecond)
	assert.Equal(t, 2, q.Expire(now))
	assert.Equal(t, 1, siblingFired)
	assert.Equal(t, 0, q.Len())

	q.Expire(now.Add(time.Hour))
	assert.Equal(t, 1, siblingFired)
}

func TestQueue_RepeatRestartsFromNow(t *testing.T) {
	q := timers.New()
	base := time.Now()
	fired := 0
	q.Add(timers.NewTimer(func() { fired++ }, base.Add(time.Millisecond), 10*time.Millisecond))

	late := base.Add(time.Second)
	assert.Equal(t, 1, q.Expire(late))
	deadline, ok := q.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, late.Add(10*time.Millisecond), deadline)
}

func TestQueue_CancelInvalid(t *testing.T) {
	q := timers.New()
	q.Cancel(timers.ID{})
	id, _ := q.Add(timers.NewTimer(nil, time.Now(), 0))
	assert.True(t, id.Valid())
	q.Cancel(id)
	q.Cancel(id)
	assert.Equal(t, 0, q.Len())
}
