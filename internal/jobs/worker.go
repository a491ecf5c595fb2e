package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const defaultPollInterval = time.Minute

// JobProcessor runs one round of background work and reports how many items it handled.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) (int, error)
}

// Worker runs a JobProcessor on a fixed interval until stopped
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
}

// NewWorker creates a new Worker instance. A non-positive interval falls back to one minute.
func NewWorker(name string, processor JobProcessor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start begins the worker's polling loop and blocks until ctx ends or Stop is called
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("%s: worker started with poll interval %v", w.name, w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("%s: worker stopped: context cancelled", w.name)
			return
		case <-w.stopChan:
			log.Printf("%s: worker stopped: stop signal received", w.name)
			return
		case <-ticker.C:
			n, err := w.runOnce(ctx)
			if err != nil {
				log.Printf("%s: error processing jobs: %v", w.name, err)
			} else if n > 0 {
				log.Printf("%s: processed %d item(s)", w.name, n)
			}
		}
	}
}

// runOnce turns a panicking round into an error so the loop keeps going.
func (w *Worker) runOnce(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.ProcessJobs(ctx)
}

// Stop gracefully stops the worker and waits for the loop to exit
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	log.Printf("%s: worker shutdown complete", w.name)
}
