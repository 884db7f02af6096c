// Package concurrency adapts the teacher's tomb.v2-supervised worker pool
// for bounded, cancellable fan-out work: the snapshot loop uses it to cap
// how many symbols are snapshotted concurrently.
package concurrency

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// TaskFunc is one unit of work handed to a pool worker.
type TaskFunc = func(t *tomb.Tomb, task any) error

// WorkerPool runs up to n goroutines pulling tasks off a shared channel,
// all supervised by a tomb.Tomb so a Kill propagates to every worker.
type WorkerPool struct {
	n     int
	tasks chan any
	work  TaskFunc
}

// NewWorkerPool builds a pool with the given worker count.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// Submit enqueues a task. Blocks if the internal channel is full.
func (p *WorkerPool) Submit(task any) {
	p.tasks <- task
}

// Start launches the pool's workers under t, each running work until t
// dies. Safe to call once per pool.
func (p *WorkerPool) Start(t *tomb.Tomb, work TaskFunc) {
	p.work = work
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	for i := 0; i < p.n; i++ {
		t.Go(func() error { return p.runWorker(t) })
	}
}

func (p *WorkerPool) runWorker(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := p.work(t, task); err != nil {
				log.Error().Err(err).Msg("worker pool task failed")
			}
		}
	}
}
