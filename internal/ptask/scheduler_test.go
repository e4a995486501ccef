package ptask

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleRunsOnce(t *testing.T) {
	assert := require.New(t)
	s := New()
	defer s.Stop()

	var count int32
	s.Schedule(10*time.Millisecond, 0, 1, func() { atomic.AddInt32(&count, 1) })

	assert.Eventually(func() bool { return atomic.LoadInt32(&count) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(1, atomic.LoadInt32(&count))
}

func TestScheduleRepeats(t *testing.T) {
	assert := require.New(t)
	s := New()
	defer s.Stop()

	var count int32
	s.Schedule(5*time.Millisecond, 10*time.Millisecond, Indefinite, func() { atomic.AddInt32(&count, 1) })

	assert.Eventually(func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestCancelPreventsFire(t *testing.T) {
	assert := require.New(t)
	s := New()
	defer s.Stop()

	var count int32
	id := s.Schedule(50*time.Millisecond, 0, 1, func() { atomic.AddInt32(&count, 1) })
	s.Cancel(id, false)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(0, atomic.LoadInt32(&count))
}

func TestResetDelaysFire(t *testing.T) {
	assert := require.New(t)
	s := New()
	defer s.Stop()

	var count int32
	id := s.Schedule(20*time.Millisecond, 0, 1, func() { atomic.AddInt32(&count, 1) })
	s.Reset(id, 80*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	assert.EqualValues(0, atomic.LoadInt32(&count))
	assert.Eventually(func() bool { return atomic.LoadInt32(&count) == 1 }, time.Second, 5*time.Millisecond)
}
