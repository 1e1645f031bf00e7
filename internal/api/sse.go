package api

import (
	"strings"
	"sync"

	"vidgenie/internal/service"

	"github.com/sirupsen/logrus"
)

const jobEventName = "generation_progress"

// jobSubscription 一个 SSE 连接，只接收所属用户的任务事件
type jobSubscription struct {
	userID uint
	events chan service.JobEvent
}

// jobEventHub 按 client_id 分发任务进度，同一 client_id 可有多个连接
type jobEventHub struct {
	mu      sync.Mutex
	clients map[string][]*jobSubscription
}

func newJobEventHub() *jobEventHub {
	return &jobEventHub{clients: make(map[string][]*jobSubscription)}
}

func (hub *jobEventHub) subscribe(clientID string, userID uint, buffer int) *jobSubscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &jobSubscription{userID: userID, events: make(chan service.JobEvent, buffer)}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return sub
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.clients[clientID] = append(hub.clients[clientID], sub)
	return sub
}

func (hub *jobEventHub) unsubscribe(clientID string, target *jobSubscription) {
	clientID = strings.TrimSpace(clientID)
	if target == nil || clientID == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	remaining := hub.clients[clientID][:0]
	for _, sub := range hub.clients[clientID] {
		if sub != target {
			remaining = append(remaining, sub)
		}
	}
	if len(remaining) == 0 {
		delete(hub.clients, clientID)
		return
	}
	hub.clients[clientID] = remaining
}

// publish 返回实际投递的连接数；慢消费者直接丢弃，任务状态仍可轮询获取
func (hub *jobEventHub) publish(event service.JobEvent) int {
	clientID := strings.TrimSpace(event.ClientID)
	if clientID == "" {
		return 0
	}

	hub.mu.Lock()
	subs := append([]*jobSubscription(nil), hub.clients[clientID]...)
	hub.mu.Unlock()

	delivered := 0
	for _, sub := range subs {
		if sub.userID != event.UserID {
			continue
		}
		select {
		case sub.events <- event:
			delivered++
		default:
			logrus.WithFields(logrus.Fields{
				"client_id": clientID,
				"job_id":    event.JobID,
				"status":    event.Status,
			}).Warn("generation_sse_event_dropped")
		}
	}
	return delivered
}
