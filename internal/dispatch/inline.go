package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrInlineInProduction 生产环境禁止使用进程内分发
var ErrInlineInProduction = errors.New("inline dispatch is not allowed in production")

// InlineDispatcher 开发期兜底：延迟后在本进程协程中执行处理器
type InlineDispatcher struct {
	registry *Registry
	delay    time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewInlineDispatcher production 为 true 时拒绝构造
func NewInlineDispatcher(registry *Registry, delay time.Duration, production bool) (*InlineDispatcher, error) {
	if production {
		return nil, ErrInlineInProduction
	}
	if delay < 0 {
		delay = 0
	}
	return &InlineDispatcher{registry: registry, delay: delay, timeout: 10 * time.Minute}, nil
}

// Dispatch 立即返回，处理器在延迟后异步运行
func (d *InlineDispatcher) Dispatch(ctx context.Context, event Event) error {
	if _, ok := d.registry.Lookup(event.Name); !ok {
		return ErrNoHandler
	}
	event.Attempt = 1

	logger := logrus.WithFields(logrus.Fields{
		"event": event.Name,
		"key":   event.Key,
		"delay": d.delay.String(),
	})
	logger.Warn("dispatch_inline_fallback")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.delay > 0 {
			time.Sleep(d.delay)
		}
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.registry.Handle(runCtx, event); err != nil {
			logger.WithError(err).Error("dispatch_inline_failed")
		}
	}()
	return nil
}

// Wait 等待已提交的事件执行完毕
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// FallbackDispatcher 主分发失败时改用兜底分发
type FallbackDispatcher struct {
	primary  Dispatcher
	fallback Dispatcher
}

// NewFallbackDispatcher fallback 为 nil 时等同于 primary
func NewFallbackDispatcher(primary, fallback Dispatcher) *FallbackDispatcher {
	return &FallbackDispatcher{primary: primary, fallback: fallback}
}

func (d *FallbackDispatcher) Dispatch(ctx context.Context, event Event) error {
	err := d.primary.Dispatch(ctx, event)
	if err == nil || d.fallback == nil {
		return err
	}
	logrus.WithError(err).WithField("event", event.Name).Warn("dispatch_primary_failed_using_fallback")
	if fbErr := d.fallback.Dispatch(ctx, event); fbErr != nil {
		return errors.Join(err, fbErr)
	}
	return nil
}

// CancelByKey 转发给支持取消的主分发器
func (d *FallbackDispatcher) CancelByKey(ctx context.Context, key string) (int64, error) {
	if canceller, ok := d.primary.(Canceller); ok {
		return canceller.CancelByKey(ctx, key)
	}
	return 0, nil
}

var (
	_ Dispatcher = (*InlineDispatcher)(nil)
	_ Dispatcher = (*FallbackDispatcher)(nil)
	_ Canceller  = (*FallbackDispatcher)(nil)
)
