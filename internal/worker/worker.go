package worker

import (
	"context"

	"github.com/sirupsen/logrus"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	logger     logrus.FieldLogger
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		logger:     pool.logger.WithField("worker", id),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			job := <-w.jobChannel
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				w.logger.Debug("worker stopped")
				return
			}
			w.run(w.pool.ctx, job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{"job": job.Type, "key": job.Key}).Errorf("job panicked: %v", r)
		}
	}()
	job.Run(ctx)
}
