package session

import (
	"sync"

	"storyboard-server/models"
)

// Manager 管理本进程内的活跃会话，以项目 id 为键
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	language models.Language
}

func NewManager(defaultLanguage models.Language) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		language: defaultLanguage,
	}
}

func (m *Manager) Create(lang models.Language) *Session {
	if lang == "" {
		lang = m.language
	}
	s := New(lang)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete 删除会话并断开其订阅者
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.events.Close()
	return nil
}

// Load 加载已保存的项目。已存在同 id 会话时原地恢复，订阅者保持连接
func (m *Manager) Load(p *models.Project) *Session {
	m.mu.Lock()
	s, ok := m.sessions[p.ID]
	if !ok {
		s = newWithID(p.ID, models.ParseLanguage(p.Language))
		m.sessions[p.ID] = s
	}
	m.mu.Unlock()
	s.Restore(p)
	return s
}

func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
