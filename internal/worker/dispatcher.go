package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs session jobs on an elastic worker pool. Keys with pending work are
// served round robin so one busy session cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	logger   logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	stopped   bool
	queues    map[string]*keyQueue
	ready     *list.List // keys with pending jobs, least recently served first
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.WithField("component", "dispatcher")
	d := &Dispatcher{
		pool:      newJobChannelPool(ctx, cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, logger),
		jobQueue:  make(chan Job, cfg.QueueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run function")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Cancel drops the jobs of key that have not reached a worker yet.
func (d *Dispatcher) Cancel(key string) {
	d.mu.Lock()
	var dropped []Job
	if q, ok := d.queues[key]; ok {
		dropped = q.jobs
		delete(d.queues, key)
	}
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	d.mu.Unlock()

	if len(dropped) > 0 {
		d.logger.WithField("key", key).Debugf("dropped %d queued jobs", len(dropped))
		go runCancelled(dropped)
	}
}

// Stop shuts the workers down. Jobs still queued run with a cancelled context.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()

		d.cancel()
		d.pool.close()
		<-d.done

		var leftover []Job
		for {
			select {
			case job := <-d.jobQueue:
				leftover = append(leftover, job)
				continue
			default:
			}
			break
		}
		d.mu.Lock()
		for elem := d.ready.Front(); elem != nil; elem = elem.Next() {
			leftover = append(leftover, d.queues[elem.Value.(string)].jobs...)
		}
		d.queues = make(map[string]*keyQueue)
		d.ready.Init()
		d.positions = make(map[string]*list.Element)
		d.mu.Unlock()

		runCancelled(leftover)
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if !d.hasReady() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.ctx.Done():
				return
			}
			continue
		}
		if !d.dispatchOne() {
			return
		}
	}
}

func (d *Dispatcher) hasReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

func (d *Dispatcher) drainQueue() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

func (d *Dispatcher) popReady() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}

// dispatchOne waits for a worker and hands it the next job. It reports false once the pool is closed.
func (d *Dispatcher) dispatchOne() bool {
	workerChan := d.pool.acquire()
	if workerChan == nil {
		return false
	}
	d.drainQueue()
	job, ok := d.popReady()
	if !ok {
		// the pending jobs were cancelled while waiting
		d.pool.Release(workerChan)
		return true
	}
	d.logger.WithFields(logrus.Fields{
		"job":    job.Type,
		"key":    job.Key,
		"worker": d.pool.workerID(workerChan),
	}).Debug("assign job")
	workerChan <- job
	return true
}

func runCancelled(jobs []Job) {
	if len(jobs) == 0 {
		return
	}
	ctx := cancelledContext()
	for _, job := range jobs {
		job.Run(ctx)
	}
}
