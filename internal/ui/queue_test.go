package ui

import (
	"testing"
	"time"
)

func TestUpdateQueuePostNeverBlocks(t *testing.T) {
	q := newUpdateQueue()
	defer q.close()

	const n = 10000
	var got []int
	posted := make(chan struct{})
	go func() {
		for i := range n {
			q.post(func() { got = append(got, i) })
		}
		close(posted)
	}()
	select {
	case <-posted:
	case <-time.After(2 * time.Second):
		t.Fatal("post blocked with nothing draining")
	}

	ran := make(chan struct{})
	go q.drain(func(f func()) {
		f()
		ran <- struct{}{}
	})
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not run the backlog")
	}
	if len(got) != n {
		t.Fatalf("ran %d updates, want %d", len(got), n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("update %d ran as %d, order lost", i, v)
		}
	}
}

func TestUpdateQueueCloseStopsDrain(t *testing.T) {
	q := newUpdateQueue()
	done := make(chan struct{})
	go func() {
		q.drain(func(f func()) { f() })
		close(done)
	}()

	q.close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain still running after close")
	}

	q.post(func() { t.Error("update ran after close") })
	q.close()
}

func TestUpdateQueueRunsInPostOrder(t *testing.T) {
	q := newUpdateQueue()
	defer q.close()

	out := make(chan int, 8)
	go q.drain(func(f func()) { f() })
	for i := range 5 {
		q.post(func() { out <- i })
	}
	for want := range 5 {
		select {
		case got := <-out:
			if got != want {
				t.Fatalf("got update %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("update %d never ran", want)
		}
	}
}
