package tsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadersConcurrent(t *testing.T) {
	assert := require.New(t)
	g := New()

	assert.NoError(g.ReaderEntry())
	assert.NoError(g.ReaderEntry())
	g.ReaderExit()
	g.ReaderExit()
}

func TestWriterExcludesReaders(t *testing.T) {
	assert := require.New(t)
	g := New()

	assert.NoError(g.WriterEntry())

	done := make(chan struct{})
	go func() {
		assert.NoError(g.ReaderEntry())
		g.ReaderExit()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("reader entered while writer held the gate")
	case <-time.After(50 * time.Millisecond):
	}

	g.WriterExit()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader never admitted after writer exit")
	}
}

func TestShutdownRejectsNewEntrants(t *testing.T) {
	assert := require.New(t)
	g := New()

	g.Shutdown()
	assert.True(g.IsShutdown())
	assert.ErrorIs(g.ReaderEntry(), ErrShutdown)
	assert.ErrorIs(g.WriterEntry(), ErrShutdown)
}

func TestShutdownDrainsActiveReaders(t *testing.T) {
	assert := require.New(t)
	g := New()

	assert.NoError(g.ReaderEntry())

	shutdownDone := make(chan struct{})
	go func() {
		g.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned before active reader exited")
	case <-time.After(50 * time.Millisecond):
	}

	g.ReaderExit()
	select {
	case <-shutdownDone:
	case <-time.After(time.Second):
		t.Fatal("shutdown never drained")
	}
}
