package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListeners_OrderAndUnsubscribe(t *testing.T) {
	l := NewListeners[int]("test", nil)

	var got []string
	l.Subscribe(func(v int) { got = append(got, "a") })
	unsub := l.Subscribe(func(v int) { got = append(got, "b") })
	l.Subscribe(func(v int) { got = append(got, "c") })

	l.Emit(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	unsub()
	unsub()
	got = nil
	l.Emit(2)
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Equal(t, 2, l.Len())
}

func TestListeners_PanicIsolated(t *testing.T) {
	l := NewListeners[string]("test", nil)

	var received []string
	l.Subscribe(func(string) { panic("boom") })
	l.Subscribe(func(v string) { received = append(received, v) })

	assert.NotPanics(t, func() { l.Emit("event") })
	assert.Equal(t, []string{"event"}, received)
}

func TestListeners_UnsubscribeDuringEmit(t *testing.T) {
	l := NewListeners[int]("test", nil)

	calls := 0
	var unsub func()
	unsub = l.Subscribe(func(int) {
		calls++
		unsub()
	})

	l.Emit(1)
	l.Emit(2)
	assert.Equal(t, 1, calls)
}

func TestListeners_ConcurrentEmit(t *testing.T) {
	l := NewListeners[int]("test", nil)

	var mu sync.Mutex
	total := 0
	l.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			l.Emit(v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1275, total)
}
