package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerConfig worker 池参数
type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	Timeout      time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	return c
}

// Worker 从持久化队列取事件并交给处理器
type Worker struct {
	queue    *QueueDispatcher
	registry *Registry
	config   WorkerConfig

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(queue *QueueDispatcher, registry *Registry, config WorkerConfig) *Worker {
	return &Worker{
		queue:    queue,
		registry: registry,
		config:   config.withDefaults(),
	}
}

// RegisterHandler 注册事件处理器
func (w *Worker) RegisterHandler(name string, handler Handler) {
	w.registry.Register(name, handler)
	logrus.WithField("event", name).Debug("dispatch_handler_registered")
}

// Start 启动 worker 协程，Stop 之后不能再启动
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errors.New("worker is stopped, cannot restart")
	}
	if w.started {
		return nil
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(runCtx, i+1)
	}

	logrus.WithFields(logrus.Fields{
		"queue":       w.queue.Name(),
		"concurrency": w.config.Concurrency,
	}).Info("dispatch_worker_started")
	return nil
}

// Stop 停止取新事件并等待处理中的事件结束
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	logrus.WithField("queue", w.queue.Name()).Info("dispatch_worker_stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 连续处理直到队列为空，避免每条事件都等一个轮询间隔
			for ctx.Err() == nil {
				processed, err := w.ProcessNext(ctx)
				if err != nil {
					logrus.WithError(err).WithField("worker", workerID).Warn("dispatch_worker_error")
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessNext 处理一条事件，队列为空时返回 false
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	row, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	event := toEvent(row)
	logger := logrus.WithFields(logrus.Fields{
		"event_id": event.ID,
		"event":    event.Name,
		"key":      event.Key,
		"attempt":  event.Attempt,
	})

	// 处理器使用独立超时，Stop 时正在处理的事件仍能完成状态落库
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.Timeout)
	defer cancel()

	start := time.Now()
	handleErr := w.registry.Handle(jobCtx, event)
	duration := time.Since(start)

	markCtx := context.WithoutCancel(ctx)
	if handleErr != nil {
		logger.WithError(handleErr).WithField("duration", duration.String()).Warn("dispatch_event_failed")
		if markErr := w.queue.MarkFailed(markCtx, event.ID, handleErr); markErr != nil {
			logger.WithError(markErr).Error("dispatch_mark_failed_error")
		}
		return true, nil
	}

	logger.WithField("duration", duration.String()).Info("dispatch_event_completed")
	if markErr := w.queue.MarkCompleted(markCtx, event.ID); markErr != nil {
		logger.WithError(markErr).Error("dispatch_mark_completed_error")
	}
	return true, nil
}
