package core

import (
	"errors"
	"fmt"
	"sync"
)

// Job is a unit of work run by a JobSystem worker.
type Job struct {
	Name string
	Run  func() error
	// Optional, called on the worker after Run.
	OnComplete func()
	OnFailure  func(err error)
}

// JobSystem is a fixed pool of workers draining a job queue.
type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup

	mu     sync.Mutex
	errs   []error
	closed bool
}

var ErrNoWorkers = errors.New("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = errors.New("job system already shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job Job) {
	if err := job.Run(); err != nil {
		LogError("job %s: %s", job.Name, err)
		js.mu.Lock()
		js.errs = append(js.errs, fmt.Errorf("job %s: %w", job.Name, err))
		js.mu.Unlock()
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

// Submit queues the job, blocking while the queue is full.
func (js *JobSystem) Submit(job Job) error {
	js.mu.Lock()
	closed := js.closed
	js.mu.Unlock()
	if closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- job
	return nil
}

// Shutdown waits for every queued job and returns their failures joined.
// Submit must not be called concurrently with Shutdown.
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return ErrJobSystemClosed
	}
	js.closed = true
	js.mu.Unlock()

	close(js.jobQueue)
	js.wg.Wait()
	return errors.Join(js.errs...)
}
