package realtime

import (
	"fmt"
	"testing"
)

func TestOutboundQueueFIFO(t *testing.T) {
	var q outboundQueue

	for i := 0; i < 5; i++ {
		q.push([]byte(fmt.Sprintf("msg-%d", i)))
	}
	if got := q.len(); got != 5 {
		t.Fatalf("len = %d, want 5", got)
	}

	for i := 0; i < 5; i++ {
		data, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d returned empty", i)
		}
		if want := fmt.Sprintf("msg-%d", i); string(data) != want {
			t.Errorf("pop %d = %s, want %s", i, data, want)
		}
	}

	if _, ok := q.pop(); ok {
		t.Error("pop on empty queue returned ok")
	}
	if got := q.len(); got != 0 {
		t.Errorf("len after drain = %d, want 0", got)
	}
}

func TestOutboundQueueInterleaved(t *testing.T) {
	var q outboundQueue

	q.push([]byte("a"))
	q.push([]byte("b"))
	if data, _ := q.pop(); string(data) != "a" {
		t.Errorf("pop = %s, want a", data)
	}
	q.push([]byte("c"))

	want := []string{"b", "c"}
	for _, w := range want {
		data, ok := q.pop()
		if !ok || string(data) != w {
			t.Errorf("pop = %s (ok=%v), want %s", data, ok, w)
		}
	}
}

func TestOutboundQueueClear(t *testing.T) {
	var q outboundQueue

	q.push([]byte("a"))
	q.push([]byte("b"))
	q.clear()

	if got := q.len(); got != 0 {
		t.Errorf("len after clear = %d, want 0", got)
	}
	if _, ok := q.pop(); ok {
		t.Error("pop after clear returned ok")
	}

	// Still usable after clear
	q.push([]byte("c"))
	if data, ok := q.pop(); !ok || string(data) != "c" {
		t.Errorf("pop after clear+push = %s (ok=%v), want c", data, ok)
	}
}
