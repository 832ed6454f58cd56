package recorder

import (
	"sync"
	"testing"
	"time"
)

func TestEventBuffer_BasicPushPop(t *testing.T) {
	buf := NewEventBuffer[int](10)

	for i := 0; i < 5; i++ {
		if !buf.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
}

func TestEventBuffer_GrowAt70Percent(t *testing.T) {
	buf := NewEventBuffer[int](10)

	for i := 0; i < 7; i++ {
		buf.Push(i)
	}

	stats := buf.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", stats.Resizes)
	}

	// Order preserved across the resize
	for i := 0; i < 7; i++ {
		val, ok := buf.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}
}

func TestEventBuffer_WrapAround(t *testing.T) {
	buf := NewEventBuffer[int](10)

	// Advance head past zero, then push across the seam
	for i := 0; i < 5; i++ {
		buf.Push(i)
	}
	for i := 0; i < 5; i++ {
		buf.TryPop()
	}
	for i := 10; i < 16; i++ {
		buf.Push(i)
	}

	for i := 10; i < 16; i++ {
		val, ok := buf.TryPop()
		if !ok || val != i {
			t.Errorf("popped %d (ok=%v), want %d", val, ok, i)
		}
	}
}

func TestEventBuffer_PopBlocksUntilPush(t *testing.T) {
	buf := NewEventBuffer[string](10)

	done := make(chan string, 1)
	go func() {
		val, ok := buf.Pop()
		if !ok {
			done <- ""
			return
		}
		done <- val
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Push("event")

	select {
	case val := <-done:
		if val != "event" {
			t.Errorf("Pop = %q, want event", val)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestEventBuffer_CloseDrainsRemaining(t *testing.T) {
	buf := NewEventBuffer[int](10)

	buf.Push(1)
	buf.Push(2)
	buf.Close()

	if buf.Push(3) {
		t.Error("Push succeeded after Close")
	}

	for i := 1; i <= 2; i++ {
		val, ok := buf.Pop()
		if !ok || val != i {
			t.Errorf("Pop = %d (ok=%v), want %d", val, ok, i)
		}
	}

	if _, ok := buf.Pop(); ok {
		t.Error("Pop returned ok on closed drained buffer")
	}
}

func TestEventBuffer_CloseWakesBlockedPop(t *testing.T) {
	buf := NewEventBuffer[int](10)

	done := make(chan bool, 1)
	go func() {
		_, ok := buf.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop returned ok after Close on empty buffer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}

func TestEventBuffer_ConcurrentProducers(t *testing.T) {
	buf := NewEventBuffer[int](16)

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Push(i)
			}
		}()
	}
	wg.Wait()

	stats := buf.Stats()
	if stats.TotalIn != producers*perProducer {
		t.Errorf("TotalIn = %d, want %d", stats.TotalIn, producers*perProducer)
	}
	if buf.Len() != producers*perProducer {
		t.Errorf("Len = %d, want %d", buf.Len(), producers*perProducer)
	}
}
