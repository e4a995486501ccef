package obixutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCircularBufRetainsUnderCapacity(t *testing.T) {
	assert := require.New(t)

	c := NewCircularBuf(16)
	n, err := c.Write([]byte("hello"))
	assert.Nil(err)
	assert.Equal(5, n)
	assert.Equal("hello", string(c.Contents()))
}

func TestCircularBufWrapsAndKeepsTail(t *testing.T) {
	assert := require.New(t)

	c := NewCircularBuf(4)
	_, err := c.Write([]byte("abcdefgh"))
	assert.Nil(err)
	assert.Equal("efgh", string(c.Contents()))
}

func TestCircularBufResetClearsContents(t *testing.T) {
	assert := require.New(t)

	c := NewCircularBuf(8)
	_, err := c.Write([]byte("abcd"))
	assert.Nil(err)
	c.Reset()
	assert.Empty(c.Contents())
}
