package workqueue

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeque_Empty(t *testing.T) {
	d := NewDeque[int]()
	_, status := d.Steal()
	assert.Equal(t, Empty, status)
	_, ok := d.Pop()
	assert.False(t, ok)

	d.Push(1)
	v, status := d.Steal()
	assert.Equal(t, Success, status)
	assert.Equal(t, 1, v)
	_, status = d.Steal()
	assert.Equal(t, Empty, status)
	assert.Zero(t, d.Len())
}

func TestDeque_OrderAndGrow(t *testing.T) {
	d := NewDeque[int]()
	const n = minRingSize*4 + 3
	for i := 0; i < n; i++ {
		d.Push(i)
	}
	assert.Equal(t, n, d.Len())

	// FIFO from the top
	for i := 0; i < 10; i++ {
		v, status := d.Steal()
		require.Equal(t, Success, status)
		assert.Equal(t, i, v)
	}
	// LIFO from the bottom
	for i := n - 1; i >= 10; i-- {
		v, ok := d.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := d.Pop()
	assert.False(t, ok)
}

func TestDeque_NoRetryWithoutContention(t *testing.T) {
	d := NewDeque[int]()
	for i := 0; i < 1000; i++ {
		d.Push(i)
	}
	for i := 0; i < 1000; i++ {
		_, status := d.Steal()
		if status != Success {
			t.Fatalf("steal %d: %v", i, status)
		}
	}
	_, status := d.Steal()
	assert.Equal(t, Empty, status)
}

func TestDeque_ConcurrentStealersUnique(t *testing.T) {
	const (
		stealers = 4
		total    = 20000
	)
	d := NewDeque[int]()
	var (
		wg       sync.WaitGroup
		pushed   atomic.Bool
		received [stealers][]int
		popped   []int
	)
	for s := 0; s < stealers; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for {
				v, status := d.Steal()
				switch status {
				case Success:
					received[s] = append(received[s], v)
				case Empty:
					if pushed.Load() && d.Len() == 0 {
						return
					}
					runtime.Gosched()
				}
			}
		}(s)
	}
	for i := 0; i < total; i++ {
		d.Push(i)
		// the owner competes for values too
		if i%7 == 0 {
			if v, ok := d.Pop(); ok {
				popped = append(popped, v)
			}
		}
	}
	pushed.Store(true)
	wg.Wait()

	seen := make([]bool, total)
	count := 0
	record := func(v int) {
		if seen[v] {
			t.Fatalf("value %d observed twice", v)
		}
		seen[v] = true
		count++
	}
	for _, v := range popped {
		record(v)
	}
	for _, values := range received {
		for _, v := range values {
			record(v)
		}
	}
	assert.Equal(t, total, count)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "Empty", Empty.String())
	assert.Equal(t, "Success", Success.String())
	assert.Equal(t, "Retry", Retry.String())
	assert.Equal(t, "Unknown", Status(9).String())
}
