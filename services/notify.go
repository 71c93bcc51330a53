package services

import (
	"sync"
	"time"
)

type EventType string

const (
	EventFeaturesChanged EventType = "features_changed"
	EventTableRefresh    EventType = "table_refresh"
	EventLayersChanged   EventType = "layers_changed"
	EventModeChanged     EventType = "mode_changed"
	EventSession         EventType = "session"
	EventInfo            EventType = "info"
)

// Event 推送给表格、详情面板和 websocket 客户端的变化通知
type Event struct {
	Type      EventType   `json:"type"`
	LayerID   string      `json:"layerId,omitempty"`
	FeatureID string      `json:"featureId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Time      string      `json:"time"`
}

// Notifier 同步分发事件，订阅者在发布者的 goroutine 中执行
type Notifier struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{subs: map[int]func(Event){}}
}

// Subscribe 返回取消订阅函数，可以重复调用
func (n *Notifier) Subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *Notifier) Publish(e Event) {
	if n == nil {
		return
	}
	if e.Time == "" {
		e.Time = time.Now().Format("2006-01-02 15:04:05")
	}
	n.mu.RLock()
	subs := make([]func(Event), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// FeaturesChanged 同时发出要素变化和表格刷新两个信号
func (n *Notifier) FeaturesChanged(layerID, featureID string) {
	n.Publish(Event{Type: EventFeaturesChanged, LayerID: layerID, FeatureID: featureID})
	n.Publish(Event{Type: EventTableRefresh, LayerID: layerID})
}
