package observable

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_ReplaysLatestValueToNewObserver(t *testing.T) {
	// Arrange
	v := NewValue[int]()
	v.Set(1)
	v.Set(2)
	v.Set(3)

	// Act
	var got []int
	v.AddObserver(func(n int) { got = append(got, n) })

	// Assert
	assert.Equal(t, []int{3}, got)
}

func TestValue_EmptyValueDoesNotReplay(t *testing.T) {
	v := NewValue[string]()

	calls := 0
	v.AddObserver(func(string) { calls++ })

	_, ok := v.Get()
	assert.False(t, ok)
	assert.Equal(t, 0, calls)
}

func TestValue_NotifiesInRegistrationOrder(t *testing.T) {
	v := NewValueOf(0)
	var order []string
	v.AddObserver(func(n int) {
		if n > 0 {
			order = append(order, "first")
		}
	})
	v.AddObserver(func(n int) {
		if n > 0 {
			order = append(order, "second")
		}
	})

	v.Set(7)

	assert.Equal(t, []string{"first", "second"}, order)
	got, ok := v.Get()
	assert.True(t, ok)
	assert.Equal(t, 7, got)
}

func TestValue_RemovedObserverReceivesNothing(t *testing.T) {
	v := NewValueOf("a")
	var got []string
	id := v.AddObserver(func(s string) { got = append(got, s) })

	assert.True(t, v.RemoveObserver(id))
	v.Set("b")
	v.Set("c")

	assert.Equal(t, []string{"a"}, got)
	assert.False(t, v.RemoveObserver(id), "second removal must report unknown id")
	assert.Equal(t, 0, v.Len())
}

func TestStream_DoesNotReplay(t *testing.T) {
	s := NewStream[int]()
	s.Set(5)

	var got []int
	s.AddObserver(func(n int) { got = append(got, n) })
	s.Set(6)

	assert.Equal(t, []int{6}, got)
	_, ok := s.Get()
	assert.False(t, ok)
}

func TestValue_ConcurrentAddRemove(t *testing.T) {
	v := NewValueOf(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := v.AddObserver(func(int) {})
			v.Set(i)
			v.RemoveObserver(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, v.Len())
}

func TestValue_WithSerialExecutor(t *testing.T) {
	exec := NewSerialExecutor()
	defer exec.Close()
	v := NewValue[int](WithExecutor(exec))

	received := make(chan int, 3)
	v.AddObserver(func(n int) { received <- n })
	v.Set(1)
	v.Set(2)

	for _, want := range []int{1, 2} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			require.FailNow(t, "observer not called on executor")
		}
	}
}

func TestSerialExecutor_CloseDrainsQueue(t *testing.T) {
	exec := NewSerialExecutor()
	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		exec.Execute(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	exec.Close()
	exec.Execute(func() { t.Error("must not run after Close") })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}
