package queue

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueFull = errors.New("queue full")

type Job struct {
	Run    func() error
	OnFail func(error)
}

// Queue is a bounded in-memory job queue drained by a fixed set of
// workers.
type Queue struct {
	jobs chan Job
	wg   sync.WaitGroup
	once sync.Once
}

func NewQueue(size int) *Queue {
	return &Queue{
		jobs: make(chan Job, size),
	}
}

// Enqueue never blocks: it reports false when the queue is full.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// EnqueueWait blocks until a worker slot takes job or ctx is done.
func (q *Queue) EnqueueWait(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Len() int {
	return len(q.jobs)
}

// StartRunner starts n workers, at least one.
func (q *Queue) StartRunner(n int) {
	n = max(n, 1)
	q.wg.Add(n)
	for range n {
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				if err := job.Run(); err != nil {
					if job.OnFail != nil {
						job.OnFail(err)
					}
				}
			}
		}()
	}
}

// Stop stops accepting jobs and waits for the queued ones to finish.
// Enqueue and EnqueueWait must not be called after Stop.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.jobs) })
	q.wg.Wait()
}
