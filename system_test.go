//go:build linux

package reactor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSystem(t *testing.T, opts ...Option) *System {
	t.Helper()
	sys, err := Builder(opts...).Finish()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Shutdown() })
	return sys
}

// capturePanic returns the value passed to panic by fn, or nil.
func capturePanic(fn func()) (v any) {
	defer func() { v = recover() }()
	fn()
	return nil
}

func TestSystem_EndToEnd(t *testing.T) {
	sys := newTestSystem(t, WithEventCapacity(4))
	e, err := NewEvented(sys)
	require.NoError(t, err)
	defer e.Close()

	w, err := e.Waker()
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer w.Close()
		if err := w.Poke(); err != nil {
			t.Error(err)
		}
	}()
	wg.Wait()

	events, err := sys.Wait()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID(), events[0].Owner)
	assert.True(t, events[0].Readable)

	n, err := e.ConsumeEvent()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	events, err = sys.Wait()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSystem_Current(t *testing.T) {
	_, err := Current()
	assert.ErrorIs(t, err, ErrNotInitialized)

	sys := newTestSystem(t)
	current, err := Current()
	require.NoError(t, err)
	assert.Same(t, sys, current)

	_, err = Builder().Finish()
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	// another goroutine has no ambient system
	done := make(chan error)
	go func() {
		_, err := Current()
		done <- err
	}()
	assert.ErrorIs(t, <-done, ErrNotInitialized)

	require.NoError(t, sys.Shutdown())
	_, err = Current()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, StateStopped, sys.State())
	require.NoError(t, sys.Shutdown())
}

func TestSystem_UsageErrors(t *testing.T) {
	var zero System
	v := capturePanic(func() { zero.Reserve() })
	var usage *UsageError
	if err, ok := v.(error); !ok || !errors.As(err, &usage) || !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("unexpected panic: %v", v)
	}

	sys := newTestSystem(t)

	done := make(chan any)
	go func() { done <- capturePanic(func() { sys.Reserve() }) }()
	v = <-done
	if err, ok := v.(error); !ok || !errors.Is(err, ErrWrongThread) {
		t.Fatalf("unexpected panic: %v", v)
	}

	require.NoError(t, sys.Shutdown())
	v = capturePanic(func() { sys.Reserve() })
	if err, ok := v.(error); !ok || !errors.Is(err, ErrStopped) {
		t.Fatalf("unexpected panic: %v", v)
	}
	// teardown after shutdown is tolerated
	assert.Nil(t, capturePanic(func() { sys.Free(0) }))
	assert.NoError(t, sys.Disarm(0))
}

func TestSystem_DoubleFree(t *testing.T) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()

	sys := newTestSystem(t, WithLogger(logger))
	id := sys.Reserve()
	sys.Free(id)
	assert.Nil(t, capturePanic(func() { sys.Free(id) }))
	assert.Contains(t, buf.String(), `usage error`)
	assert.Contains(t, buf.String(), sys.ID().String())
	assert.Equal(t, id, sys.Reserve())
	require.NoError(t, sys.Shutdown())

	strict := newTestSystem(t, WithStrictUsage(true))
	id = strict.Reserve()
	strict.Free(id)
	v := capturePanic(func() { strict.Free(id) })
	if err, ok := v.(error); !ok || !errors.Is(err, ErrIdentityVacant) {
		t.Fatalf("unexpected panic: %v", v)
	}
}

func TestSystem_InvalidOptions(t *testing.T) {
	_, err := Builder(WithEventCapacity(0)).Finish()
	assert.Error(t, err)
	_, err = Builder(nil, WithIdentityCapacity(-1)).Finish()
	assert.Error(t, err)
	_, err = Current()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSystemOptions_TimeoutMillis(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{-1, -1},
		{time.Microsecond, 1},
		{1500 * time.Millisecond, 1500},
	} {
		cfg, err := resolveSystemOptions([]Option{WithWaitTimeout(tc.d)})
		require.NoError(t, err)
		assert.Equal(t, tc.want, cfg.timeoutMillis(), tc.d.String())
	}
}

func TestStart_HandleStop(t *testing.T) {
	sys := newTestSystem(t, WithWaitTimeout(-1))
	e, err := NewEvented(sys)
	require.NoError(t, err)
	defer e.Close()

	w, err := e.Waker()
	require.NoError(t, err)
	defer w.Close()
	handle := sys.Handle()

	var values []uint64
	root := Map[struct{}, Result[uint64], struct{}](e, func(r Result[uint64]) struct{} {
		require.NoError(t, r.Err)
		values = append(values, r.Value)
		if len(values) == 3 {
			require.NoError(t, handle.Stop())
		} else {
			go func() { _ = w.Poke() }()
		}
		return struct{}{}
	})

	require.NoError(t, w.Poke())
	require.NoError(t, Start[struct{}](context.Background(), sys, root))
	assert.Equal(t, []uint64{1, 1, 1}, values)
	assert.Equal(t, StateStopped, sys.State())
	// the stop handle outlives the system
	assert.NoError(t, handle.Stop())
}

func TestStart_ContextCancel(t *testing.T) {
	sys := newTestSystem(t, WithWaitTimeout(-1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	root := Func[struct{}, struct{}](func(r Reaction[struct{}]) Reaction[struct{}] {
		t.Errorf("unexpected reaction: %v", r)
		return Continue[struct{}]()
	})
	err := Start[struct{}](ctx, sys, root)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateStopped, sys.State())
}

func TestSystem_WaitConsumesStop(t *testing.T) {
	sys := newTestSystem(t)
	require.NoError(t, sys.Handle().Stop())
	events, err := sys.Wait()
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.True(t, sys.StopRequested())
}
