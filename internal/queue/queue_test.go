package queue

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestJobsRunAndReportErrors(t *testing.T) {
	rqm := NewRequestQueueManager(4, 2, nil)
	defer rqm.Shutdown()

	var ran int32
	for i := 0; i < 10; i++ {
		errc := make(chan error, 1)
		want := error(nil)
		if i%2 == 0 {
			want = errors.New("boom")
		}
		rqm.EnqueueJob(Job{
			Fn: func() error {
				atomic.AddInt32(&ran, 1)
				return want
			},
			Errc: errc,
		})
		if got := <-errc; got != want {
			t.Fatalf("job %d: expected %v, got %v", i, want, got)
		}
	}
	if atomic.LoadInt32(&ran) != 10 {
		t.Fatalf("expected 10 jobs to run, got %d", ran)
	}
}

func TestShutdownDrainsQueue(t *testing.T) {
	rqm := NewRequestQueueManager(8, 1, nil)

	var ran int32
	for i := 0; i < 5; i++ {
		rqm.EnqueueJob(Job{Fn: func() error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
	}
	rqm.Shutdown()

	if atomic.LoadInt32(&ran) != 5 {
		t.Fatalf("expected queued jobs to finish before shutdown returns, got %d", ran)
	}
}
