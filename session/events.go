package session

import (
	"sync"

	"storyboard-server/models"

	"go.uber.org/zap"
)

const (
	EventReset          = "reset"
	EventStatus         = "status"
	EventSceneInserted  = "scene_inserted"
	EventComplete       = "complete"
	EventIncomplete     = "incomplete"
	EventError          = "error"
	EventStoryIdea      = "story_idea"
	EventScript         = "script"
	EventCharacters     = "characters"
	EventCharacterImage = "character_image"
	EventSceneImage     = "scene_image"
)

// Event 推送给会话订阅者（例如进度 WebSocket）
type Event struct {
	Type      string                     `json:"type"`
	ProjectID string                     `json:"project_id"`
	Epoch     uint64                     `json:"epoch"`
	Message   string                     `json:"message,omitempty"`
	Error     string                     `json:"error,omitempty"`
	Scene     *models.Scene              `json:"scene,omitempty"`
	Character *models.CharacterProfile   `json:"character,omitempty"`
	Progress  *models.GenerationProgress `json:"progress,omitempty"`
}

const subscriberBuffer = 256

// Broadcaster 向订阅者广播事件，发布方不会阻塞，跟不上的订阅者会丢失事件
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe 返回事件 channel 和关闭它的 cancel 函数
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			zap.L().Debug("dropping event for slow subscriber",
				zap.String("project_id", ev.ProjectID),
				zap.String("type", ev.Type))
		}
	}
}

// Close 断开所有订阅者
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
