package moderation

import (
	"context"
	"sync"
)

// FakeGate 测试替身，默认放行
type FakeGate struct {
	mu      sync.Mutex
	result  *Result
	err     error
	prompts []string
}

// RejectWith 之后的审核都返回拒绝
func (g *FakeGate) RejectWith(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := Reject(reason)
	g.result = &r
}

// FailWith 模拟审核服务不可用
func (g *FakeGate) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Prompts 收到过的提示词
func (g *FakeGate) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func (g *FakeGate) Moderate(_ context.Context, prompt string) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return Result{}, g.err
	}
	if g.result != nil {
		return *g.result, nil
	}
	return Allow(), nil
}
