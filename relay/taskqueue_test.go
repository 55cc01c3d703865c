package relay

import (
	"testing"
)

func TestTaskQueueFIFO(t *testing.T) {
	q := NewTaskQueue()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.Enqueue(Item{Run: func() error {
			order = append(order, i)
			return nil
		}}, false)
	}
	stop := make(chan struct{})
	for i := 0; i < 3; i++ {
		item, ok := q.Dequeue(stop)
		if !ok {
			t.Fatalf("dequeue %d: queue drained early", i)
		}
		if err := item.Run(); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if err := q.TaskDone(); err != nil {
			t.Fatalf("task done %d: %v", i, err)
		}
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("items ran out of order: %v", order)
	}
}

func TestTaskQueueCloseDrains(t *testing.T) {
	q := NewTaskQueue()
	ran := false
	q.Enqueue(Item{Run: func() error { ran = true; return nil }}, false)
	q.Close()

	stop := make(chan struct{})
	item, ok := q.Dequeue(stop)
	if !ok {
		t.Fatal("closed queue should still yield its pending item")
	}
	if err := item.Run(); err != nil {
		t.Fatal(err)
	}
	if err := q.TaskDone(); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("item never ran")
	}

	if _, ok := q.Dequeue(stop); ok {
		t.Fatal("drained closed queue should report ok=false")
	}
}

func TestTaskQueueEnqueueAfterCloseCancels(t *testing.T) {
	q := NewTaskQueue()
	q.Close()
	cancelled := false
	q.Enqueue(Item{
		Run:    func() error { t.Fatal("should never run"); return nil },
		Cancel: func() { cancelled = true },
	}, false)
	if !cancelled {
		t.Fatal("enqueue into a closed queue without ignoreClosed should cancel immediately")
	}
}

func TestTaskQueueEnqueueAfterCloseWithIgnore(t *testing.T) {
	q := NewTaskQueue()
	q.Close()
	ran := false
	q.Enqueue(Item{Run: func() error { ran = true; return nil }}, true)
	stop := make(chan struct{})
	item, ok := q.Dequeue(stop)
	if !ok {
		t.Fatal("ignoreClosed enqueue should still be delivered")
	}
	item.Run()
	q.TaskDone()
	if !ran {
		t.Fatal("item never ran")
	}
}

func TestTaskQueueCancel(t *testing.T) {
	q := NewTaskQueue()
	cancelled := 0
	for i := 0; i < 2; i++ {
		q.Enqueue(Item{
			Run:    func() error { t.Fatal("cancelled item should never run"); return nil },
			Cancel: func() { cancelled++ },
		}, false)
	}
	q.Cancel()
	if cancelled != 2 {
		t.Fatalf("got %d cancellations, want 2", cancelled)
	}
	q.Join() // must not block: Cancel marks every pending item done

	stop := make(chan struct{})
	if _, ok := q.Dequeue(stop); ok {
		t.Fatal("cancelled queue should never yield an item")
	}
}

func TestTaskQueueDoubleTaskDone(t *testing.T) {
	q := NewTaskQueue()
	q.Enqueue(Item{Run: func() error { return nil }}, false)
	stop := make(chan struct{})
	item, _ := q.Dequeue(stop)
	item.Run()
	if err := q.TaskDone(); err != nil {
		t.Fatal(err)
	}
	err := q.TaskDone()
	if _, ok := err.(*InternalError); !ok {
		t.Fatalf("got %v, want *InternalError", err)
	}
}

func TestTaskQueueDequeueStop(t *testing.T) {
	q := NewTaskQueue()
	stop := make(chan struct{})
	close(stop)
	if _, ok := q.Dequeue(stop); ok {
		t.Fatal("dequeue on a pre-closed stop channel should report ok=false")
	}
}
