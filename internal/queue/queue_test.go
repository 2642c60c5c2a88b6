package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// blockingJob returns a job that records concurrency and waits for release
func blockingJob(id string, release <-chan struct{}, active, peak *int32) *BuildJob {
	return &BuildJob{
		DeploymentID: id,
		AppName:      "app-" + id,
		Run: func(ctx context.Context) error {
			n := atomic.AddInt32(active, 1)
			for {
				p := atomic.LoadInt32(peak)
				if n <= p || atomic.CompareAndSwapInt32(peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(active, -1)
			return nil
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestBuildQueue_AdmissionLimits(t *testing.T) {
	const k, m = 2, 5
	q := NewBuildQueue(k, m)

	release := make(chan struct{})
	var active, peak int32
	var results []<-chan Result

	for i := 0; i < k+m; i++ {
		res, err := q.Submit(blockingJob(fmt.Sprint(i), release, &active, &peak))
		if err != nil {
			t.Fatalf("Submission %d rejected: %v", i, err)
		}
		results = append(results, res)
		if q.Pending() > m {
			t.Fatalf("Pending %d exceeds backlog %d", q.Pending(), m)
		}
	}

	if q.Running() != k {
		t.Errorf("Expected %d running, got %d", k, q.Running())
	}
	if q.Pending() != m {
		t.Errorf("Expected %d pending, got %d", m, q.Pending())
	}

	if _, err := q.Submit(blockingJob("overflow", release, &active, &peak)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Expected ErrQueueFull, got %v", err)
	}
	if q.Pending() != m {
		t.Errorf("Rejected job must not be queued, pending=%d", q.Pending())
	}

	close(release)
	for i, res := range results {
		select {
		case r := <-res:
			if r.Err != nil {
				t.Errorf("Job %d failed: %v", i, r.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Job %d never completed", i)
		}
	}

	if p := atomic.LoadInt32(&peak); p > k {
		t.Errorf("Observed %d concurrent jobs, limit is %d", p, k)
	}
	waitFor(t, func() bool { return q.Running() == 0 && q.Pending() == 0 })
}

func TestBuildQueue_FailureReleasesSlot(t *testing.T) {
	q := NewBuildQueue(1, 1)
	boom := errors.New("install failed")

	first, err := q.Submit(&BuildJob{DeploymentID: "a", Run: func(ctx context.Context) error { return boom }})
	if err != nil {
		t.Fatal(err)
	}
	if r := <-first; !errors.Is(r.Err, boom) {
		t.Fatalf("Expected job error to propagate, got %v", r.Err)
	}

	second, err := q.Submit(&BuildJob{DeploymentID: "b", Run: func(ctx context.Context) error { panic("kaboom") }})
	if err != nil {
		t.Fatalf("Slot should be free after failure: %v", err)
	}
	if r := <-second; r.Err == nil {
		t.Fatalf("Expected panic to surface as error")
	}

	waitFor(t, func() bool { return q.Running() == 0 })
}

func TestBuildQueue_PendingStartInArrivalOrder(t *testing.T) {
	q := NewBuildQueue(1, 3)
	release := make(chan struct{})

	var mu sync.Mutex
	var order []string
	job := func(id string) *BuildJob {
		return &BuildJob{DeploymentID: id, Run: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			<-release
			return nil
		}}
	}

	var results []<-chan Result
	for _, id := range []string{"1", "2", "3", "4"} {
		res, err := q.Submit(job(id))
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, res)
	}
	close(release)
	for _, res := range results {
		<-res
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"1", "2", "3", "4"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected start order %v, got %v", want, order)
		}
	}
}

func TestBuildQueue_CloseRejectsButFinishesAdmitted(t *testing.T) {
	q := NewBuildQueue(1, 1)
	release := make(chan struct{})
	var active, peak int32

	res, err := q.Submit(blockingJob("x", release, &active, &peak))
	if err != nil {
		t.Fatal(err)
	}
	q.Close()

	if _, err := q.Submit(blockingJob("y", release, &active, &peak)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Expected ErrQueueClosed, got %v", err)
	}

	close(release)
	q.Wait()
	if r := <-res; r.Err != nil {
		t.Fatalf("Admitted job failed: %v", r.Err)
	}
}

func TestBuildQueue_Observer(t *testing.T) {
	q := NewBuildQueue(1, 1)
	var maxPending int32
	q.SetObserver(func(running, pending int) {
		if int32(pending) > atomic.LoadInt32(&maxPending) {
			atomic.StoreInt32(&maxPending, int32(pending))
		}
	})

	release := make(chan struct{})
	var active, peak int32
	a, _ := q.Submit(blockingJob("a", release, &active, &peak))
	b, _ := q.Submit(blockingJob("b", release, &active, &peak))
	close(release)
	<-a
	<-b

	if atomic.LoadInt32(&maxPending) != 1 {
		t.Errorf("Expected observer to see one pending job, got %d", maxPending)
	}
}
