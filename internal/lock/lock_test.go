package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/folio/internal/errors"
)

func TestReadUnderWriteIsFree(t *testing.T) {
	l := New()
	ctx, release, err := l.Write(context.Background())
	require.NoError(t, err)
	defer release()

	rctx, rrelease := l.Read(ctx)
	defer rrelease()
	assert.Equal(t, Writing, l.Held(rctx))

	wctx, wrelease, err := l.Write(rctx)
	require.NoError(t, err)
	wrelease()
	assert.Equal(t, Writing, l.Held(wctx))
}

func TestWriteUnderReadFailsFast(t *testing.T) {
	l := New()
	ctx, release := l.Read(context.Background())
	defer release()

	_, _, err := l.Write(ctx)
	require.ErrorIs(t, err, errors.ErrLockUpgrade)

	_, _, ok, err := l.TryWrite(ctx)
	require.ErrorIs(t, err, errors.ErrLockUpgrade)
	assert.False(t, ok)
}

func TestConcurrentReaders(t *testing.T) {
	l := New()
	var active, peak atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, release := l.Read(context.Background())
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			release()
		}()
	}
	close(start)
	wg.Wait()
	assert.Greater(t, peak.Load(), int32(1))
}

func TestWriterExcludesReaders(t *testing.T) {
	l := New()
	_, release, err := l.Write(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, r := l.Read(context.Background())
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("reader proceeded while writer held the lock")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	release() // idempotent
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired the lock")
	}
}

func TestTryWrite(t *testing.T) {
	l := New()
	_, rrelease := l.Read(context.Background())

	_, _, ok, err := l.TryWrite(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	rrelease()
	_, release, ok, err := l.TryWrite(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestHeldIsPerLock(t *testing.T) {
	a, b := New(), New()
	ctx, release := a.Read(context.Background())
	defer release()
	assert.Equal(t, Reading, a.Held(ctx))
	assert.Equal(t, None, b.Held(ctx))

	_, wrelease, err := b.Write(ctx)
	require.NoError(t, err)
	wrelease()
}
