package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// taskWorker is the backend-facing side of a task loop: it produces tasks,
// keeps their locks alive and checkpoints their results.
type taskWorker[Task, Result any] interface {
	Get(ctx context.Context) (*Task, error)

	Extend(ctx context.Context, task *Task) error

	// Execute processes the task. A nil result means there is nothing to
	// checkpoint, e.g. because the task was re-enqueued for retry.
	Execute(ctx context.Context, task *Task) (*Result, error)

	Complete(ctx context.Context, task *Task, result *Result) error
}

// taskLoop polls the backend for tasks and dispatches them to a bounded set
// of goroutines. While a task is being processed its lock is extended on the
// heartbeat interval.
type taskLoop[Task, Result any] struct {
	tw taskWorker[Task, Result]

	options *Options

	logger *slog.Logger

	taskQueue chan *Task

	pollersWg sync.WaitGroup

	dispatcherDone chan struct{}
}

func newTaskLoop[Task, Result any](tw taskWorker[Task, Result], logger *slog.Logger, options *Options) *taskLoop[Task, Result] {
	return &taskLoop[Task, Result]{
		tw:             tw,
		options:        options,
		logger:         logger,
		taskQueue:      make(chan *Task),
		dispatcherDone: make(chan struct{}, 1),
	}
}

func (l *taskLoop[Task, Result]) Start(ctx context.Context) {
	l.pollersWg.Add(l.options.Pollers)

	for i := 0; i < l.options.Pollers; i++ {
		go l.poller(ctx)
	}

	go l.dispatcher()
}

// WaitForCompletion blocks until all pollers have observed the context
// cancellation and all in-flight tasks have finished.
func (l *taskLoop[Task, Result]) WaitForCompletion() {
	l.pollersWg.Wait()

	close(l.taskQueue)
	<-l.dispatcherDone
}

func (l *taskLoop[Task, Result]) poller(ctx context.Context) {
	defer l.pollersWg.Done()

	ticker := time.NewTicker(l.options.PollingInterval)
	defer ticker.Stop()

	for {
		task, err := l.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			l.logger.ErrorContext(ctx, "error polling task", "error", err)
		} else if task != nil {
			select {
			case l.taskQueue <- task:
				continue // check for new tasks right away
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (l *taskLoop[Task, Result]) dispatcher() {
	var sem chan struct{}

	if l.options.MaxParallelTasks > 0 {
		sem = make(chan struct{}, l.options.MaxParallelTasks)
	}

	var wg sync.WaitGroup

	for t := range l.taskQueue {
		if sem != nil {
			sem <- struct{}{}
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			// New context so in-flight tasks can complete when the root
			// context is canceled.
			l.handle(context.Background(), t)

			if sem != nil {
				<-sem
			}
		}()
	}

	wg.Wait()

	l.dispatcherDone <- struct{}{}
}

func (l *taskLoop[Task, Result]) handle(ctx context.Context, task *Task) {
	if l.options.HeartbeatInterval > 0 {
		heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
		defer cancelHeartbeat()
		go l.heartbeat(heartbeatCtx, task)
	}

	result, err := l.tw.Execute(ctx, task)
	if err != nil {
		l.logger.ErrorContext(ctx, "error executing task", "error", err)
		return
	}

	if result == nil {
		return
	}

	if err := l.tw.Complete(ctx, task, result); err != nil {
		l.logger.ErrorContext(ctx, "error completing task", "error", err)
	}
}

func (l *taskLoop[Task, Result]) heartbeat(ctx context.Context, task *Task) {
	t := time.NewTicker(l.options.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := l.tw.Extend(ctx, task); err != nil {
				l.logger.ErrorContext(ctx, "could not heartbeat task", "error", err)
			}
		}
	}
}

func (l *taskLoop[Task, Result]) poll(ctx context.Context) (*Task, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	task, err := l.tw.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, err
	}

	return task, nil
}
