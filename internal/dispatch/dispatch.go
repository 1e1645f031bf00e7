package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

const (
	EventImageRequested = "generation.image.requested"
	EventVideoRequested = "generation.video.requested"
)

// ErrNoHandler 事件没有注册处理器
var ErrNoHandler = errors.New("no handler registered")

// Event 分发给 worker 的命名事件，Key 用于按业务对象取消
type Event struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt,omitempty"`
}

// NewEvent 序列化 payload 构造事件
func NewEvent(name, key string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Key: key, Payload: raw}, nil
}

// Decode 反序列化 payload
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.Name)
	}
	return json.Unmarshal(e.Payload, v)
}

// JobPayload 生成任务事件的负载
type JobPayload struct {
	JobID string `json:"job_id"`
}

// Handler 处理一个事件；需要幂等，同一事件可能被投递多次
type Handler func(ctx context.Context, event Event) error

// Dispatcher 把事件交给异步执行方
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// Canceller 可以撤回尚未执行的事件
type Canceller interface {
	CancelByKey(ctx context.Context, key string) (int64, error)
}

// Registry 事件名到处理器的映射，worker 和 inline 分发共用
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}

// Handle 找到处理器并执行
func (r *Registry) Handle(ctx context.Context, event Event) error {
	handler, ok := r.Lookup(event.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, event.Name)
	}
	return handler(ctx, event)
}
