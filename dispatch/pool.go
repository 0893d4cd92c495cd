// Package dispatch runs named data-parallel kernels over index domains.
package dispatch

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// ErrNoWorkers is returned when no execution backend can be started.
var ErrNoWorkers = errors.New("dispatch: no workers available")

// DefaultThreshold is the minimum domain size to fan out to workers.
// Below this, running inline is faster than the channel round trips.
const DefaultThreshold = 2048

// Kernel processes the items [lo, hi). slot is unique among the chunks of a
// single dispatch and smaller than Workers(), so kernels may index per-slot
// scratch buffers with it.
type Kernel func(lo, hi, slot int)

// Dispatcher runs a kernel over [0, n) and returns once every item has been
// processed. Returning is the fence: all writes made by the kernel are
// visible to the caller.
type Dispatcher interface {
	Dispatch(name string, n int, k Kernel)
	Workers() int
}

// Observer receives the wall time of each completed dispatch.
type Observer func(name string, n int, d time.Duration)

// workChunk represents a range of items for a worker to process.
type workChunk struct {
	start, end int
	slot       int
	kernel     Kernel
}

// Pool is a persistent goroutine pool implementing Dispatcher.
// Dispatch is serialised; phases run one after another.
type Pool struct {
	numWorkers int
	threshold  int
	observer   Observer

	mu       sync.Mutex
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

// NewPool creates a pool with the given number of workers.
// workers == 0 uses GOMAXPROCS.
func NewPool(workers int) (*Pool, error) {
	if workers < 0 {
		return nil, fmt.Errorf("%w: requested %d workers", ErrNoWorkers, workers)
	}
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers < 1 {
		return nil, ErrNoWorkers
	}
	return &Pool{
		numWorkers: workers,
		threshold:  DefaultThreshold,
	}, nil
}

// SetThreshold changes the inline-execution cutoff. Values below 1 force
// every dispatch onto the workers.
func (p *Pool) SetThreshold(n int) {
	if n < 1 {
		n = 1
	}
	p.threshold = n
}

// SetObserver installs a timing callback, nil disables it.
func (p *Pool) SetObserver(o Observer) {
	p.observer = o
}

// Workers returns the number of slots a kernel may see.
func (p *Pool) Workers() int {
	return p.numWorkers
}

// startWorkers launches persistent worker goroutines.
func (p *Pool) startWorkers() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Close signals all workers to exit and waits for them.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			chunk.kernel(chunk.start, chunk.end, chunk.slot)
			p.doneChan <- struct{}{}
		}
	}
}

// Dispatch runs k over [0, n) and blocks until it has finished.
func (p *Pool) Dispatch(name string, n int, k Kernel) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var start time.Time
	if p.observer != nil {
		start = time.Now()
	}

	if n < p.threshold || p.numWorkers == 1 {
		k(0, n, 0)
	} else {
		p.fanOut(n, k)
	}

	if p.observer != nil {
		p.observer(name, n, time.Since(start))
	}
}

// fanOut splits [0, n) into at most numWorkers chunks and waits for all.
func (p *Pool) fanOut(n int, k Kernel) {
	if !p.running {
		p.startWorkers()
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		p.workChan <- workChunk{start: start, end: end, slot: w, kernel: k}
		chunksDispatched++
	}

	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}
}
