package idpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAscending(t *testing.T) {
	assert := require.New(t)
	p := New()

	for i := 0; i < 5; i++ {
		assert.Equal(i, p.Get())
	}
}

func TestPutRecyclesLowestID(t *testing.T) {
	assert := require.New(t)
	p := New()

	ids := make([]int, 5)
	for i := range ids {
		ids[i] = p.Get()
	}

	p.Put(ids[2])
	assert.Equal(ids[2], p.Get())
}

func TestSpansMultipleWords(t *testing.T) {
	assert := require.New(t)
	p := New()

	for i := 0; i < mapSize+10; i++ {
		assert.Equal(i, p.Get())
	}
}

func TestPutOutOfRangeIsNoop(t *testing.T) {
	assert := require.New(t)
	p := New()

	p.Get()
	assert.NotPanics(func() { p.Put(-1) })
	assert.NotPanics(func() { p.Put(1000) })
}
