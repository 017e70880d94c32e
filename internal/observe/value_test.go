package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueGetSet(t *testing.T) {
	v := NewValue("Disconnected")
	assert.Equal(t, "Disconnected", v.Get())

	assert.True(t, v.Set("Connected"))
	assert.Equal(t, "Connected", v.Get())

	assert.False(t, v.Set("Connected"), "equal value should not count as a change")
}

func TestValueSubscribeOrder(t *testing.T) {
	v := NewValue(false)
	var got []bool
	v.Subscribe(func(b bool) { got = append(got, b) })

	v.Set(true)
	v.Set(false)
	v.Set(false) // no-op
	v.Set(true)

	assert.Equal(t, []bool{true, false, true}, got)
}

func TestValueUnsubscribe(t *testing.T) {
	v := NewValue(0)
	calls := 0
	unsubscribe := v.Subscribe(func(int) { calls++ })

	v.Set(1)
	unsubscribe()
	unsubscribe() // safe twice
	v.Set(2)

	assert.Equal(t, 1, calls)
}

func TestReadOnlyView(t *testing.T) {
	v := NewValue(10)
	r := v.ReadOnly()

	_, isValue := r.(*Value[int])
	assert.False(t, isValue, "read-only view must not expose the owner")

	var seen int
	r.Subscribe(func(n int) { seen = n })
	v.Set(9)
	assert.Equal(t, 9, r.Get())
	assert.Equal(t, 9, seen)
}

func TestValueConcurrentSetters(t *testing.T) {
	v := NewValue(0)
	var mu sync.Mutex
	var got []int
	v.Subscribe(func(n int) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			v.Set(n)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, v.Get(), got[len(got)-1], "last notification must match the final value")
}

func TestAwait(t *testing.T) {
	v := NewValue(false)
	done := make(chan struct{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		v.Set(true)
	}()

	assert.True(t, Await[bool](v, done, func(b bool) bool { return b }))
}

func TestAwaitAlreadyMatching(t *testing.T) {
	v := NewValue(3)
	assert.True(t, Await[int](v, nil, func(n int) bool { return n == 3 }))
}

func TestAwaitDone(t *testing.T) {
	v := NewValue(false)
	done := make(chan struct{})
	close(done)

	assert.False(t, Await[bool](v, done, func(b bool) bool { return b }))
}
