package queue

import (
	"sync"

	"chat-sync/internal/logger"
)

type Job struct {
	Fn   func() error
	Errc chan error
}

type RequestQueueManager struct {
	JobQueue   chan Job
	MaxWorkers int
	log        logger.ILogger
	wg         sync.WaitGroup
}

func NewRequestQueueManager(queueSize int, maxWorkers int, log logger.ILogger) *RequestQueueManager {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	manager := &RequestQueueManager{
		JobQueue:   make(chan Job, queueSize),
		MaxWorkers: maxWorkers,
		log:        log,
	}
	manager.startWorkers()
	return manager
}

func (rqm *RequestQueueManager) startWorkers() {
	for i := 0; i < rqm.MaxWorkers; i++ {
		rqm.wg.Add(1)
		go func(workerID int) {
			defer rqm.wg.Done()
			rqm.log.Debug("queue", "worker started", map[string]interface{}{"worker": workerID})
			for job := range rqm.JobQueue {
				err := job.Fn()
				if job.Errc != nil {
					job.Errc <- err
				}
			}
			rqm.log.Debug("queue", "worker stopped", map[string]interface{}{"worker": workerID})
		}(i)
	}
}

func (rqm *RequestQueueManager) EnqueueJob(job Job) {
	rqm.JobQueue <- job
}

// Depth is the number of jobs waiting for a worker.
func (rqm *RequestQueueManager) Depth() int {
	return len(rqm.JobQueue)
}

func (rqm *RequestQueueManager) Shutdown() {
	close(rqm.JobQueue)
	rqm.wg.Wait()
}
