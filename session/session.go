// Package session 分镜项目的会话状态，以及通过生成客户端和累积器填充它的操作
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"storyboard-server/models"

	"github.com/google/uuid"
)

var (
	// ErrStale 操作开始后会话已被重置
	ErrStale = errors.New("session was reset while the operation was running")
	// ErrBusy 已有冲突的操作在运行
	ErrBusy = errors.New("another generation is already running for this project")
	// ErrNotReady 缺少操作所需的输入
	ErrNotReady = errors.New("project is not ready for this operation")
	// ErrNotFound 项目、角色或分镜不存在
	ErrNotFound = errors.New("not found")
)

// 同类操作互斥，剧本和分镜生成共用 opMain
const (
	opIdea       = "idea"
	opCharacters = "characters"
	opMain       = "main"
	opImages     = "images"
)

// Incomplete 停滞次数用尽、未达到目标时设置
type Incomplete struct {
	Achieved int `json:"achieved"`
	Target   int `json:"target"`
}

// Session 一个活跃项目，所有访问都通过其方法
type Session struct {
	ID string

	mu            sync.RWMutex
	epoch         uint64
	language      models.Language
	characters    []models.CharacterProfile
	storyIdea     string
	script        string
	config        models.VideoConfig
	scenes        []models.Scene
	progress      models.GenerationProgress
	statusMessage string
	complete      bool
	incomplete    *Incomplete
	lastError     string
	busy          map[string]bool
	lastModified  time.Time

	events *Broadcaster
}

func New(lang models.Language) *Session {
	return newWithID(uuid.NewString(), lang)
}

func newWithID(id string, lang models.Language) *Session {
	s := &Session{
		ID:     id,
		epoch:  1,
		events: NewBroadcaster(),
	}
	s.clear(lang)
	return s
}

func (s *Session) clear(lang models.Language) {
	s.language = lang
	s.characters = nil
	s.storyIdea = ""
	s.script = ""
	s.config = models.DefaultVideoConfig()
	s.config.DialogueLanguage = string(lang)
	s.scenes = nil
	s.progress = models.GenerationProgress{}
	s.statusMessage = ""
	s.complete = false
	s.incomplete = nil
	s.lastError = ""
	s.busy = map[string]bool{}
	s.lastModified = time.Now()
}

func (s *Session) Events() *Broadcaster {
	return s.events
}

func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// HasContent 是否有重置时会丢弃的内容
func (s *Session) HasContent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasContentLocked()
}

func (s *Session) hasContentLocked() bool {
	return s.storyIdea != "" || len(s.characters) > 0 || len(s.scenes) > 0 || s.script != ""
}

// Reset 清空所有字段并递增 epoch。进行中的操作继续运行，但结果被丢弃。返回旧项目是否有内容
func (s *Session) Reset() bool {
	s.mu.Lock()
	had := s.hasContentLocked()
	s.epoch++
	s.clear(s.language)
	epoch := s.epoch
	s.mu.Unlock()

	s.publish(Event{Type: EventReset, Epoch: epoch})
	return had
}

// commit 会话仍处于 epoch 时执行 fn
func (s *Session) commit(epoch uint64, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrStale
	}
	fn()
	s.lastModified = time.Now()
	return nil
}

// commitChecked 同 commit，fn 可以拒绝修改
func (s *Session) commitChecked(epoch uint64, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrStale
	}
	if err := fn(); err != nil {
		return err
	}
	s.lastModified = time.Now()
	return nil
}

// begin 在锁内检查 ready 通过后，将 op 标记为运行中
func (s *Session) begin(epoch uint64, op string, ready func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrStale
	}
	if s.busy[op] {
		return ErrBusy
	}
	if ready != nil {
		if err := ready(); err != nil {
			return err
		}
	}
	s.busy[op] = true
	s.lastError = ""
	return nil
}

func (s *Session) end(epoch uint64, op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch == epoch {
		delete(s.busy, op)
	}
}

func (s *Session) setError(epoch uint64, msg string) {
	if err := s.commit(epoch, func() { s.lastError = msg }); err != nil {
		return
	}
	s.publish(Event{Type: EventError, Epoch: epoch, Error: msg})
}

func (s *Session) publish(ev Event) {
	ev.ProjectID = s.ID
	s.events.Publish(ev)
}

// Name 取故事构思的第一行
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.ProjectName(s.storyIdea, s.language)
}

func (s *Session) Language() models.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

func (s *Session) SetLanguage(lang models.Language) {
	s.mu.Lock()
	s.language = lang
	s.lastModified = time.Now()
	s.mu.Unlock()
}

func (s *Session) SetStoryIdea(idea string) {
	s.mu.Lock()
	s.storyIdea = idea
	s.lastModified = time.Now()
	s.mu.Unlock()
}

func (s *Session) SetScript(script string) {
	s.mu.Lock()
	s.script = script
	s.lastModified = time.Now()
	s.mu.Unlock()
}

func (s *Session) SetVideoConfig(cfg models.VideoConfig) {
	s.mu.Lock()
	s.config = cfg
	s.lastModified = time.Now()
	s.mu.Unlock()
}

// UpdateVideoConfig 在会话锁内修改视频参数
func (s *Session) UpdateVideoConfig(fn func(*models.VideoConfig)) models.VideoConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.config)
	s.lastModified = time.Now()
	return s.config
}

// SetDurationMinutes 分钟数换算为时长；非正数或非数字时 duration 为 0，禁止生成
func (s *Session) SetDurationMinutes(input string) int {
	d := models.DurationFromMinutes(input)
	s.mu.Lock()
	s.config.Duration = d
	s.lastModified = time.Now()
	s.mu.Unlock()
	return d
}

func (s *Session) SetCharacters(chars []models.CharacterProfile) {
	s.mu.Lock()
	s.characters = models.CloneCharacters(chars)
	s.lastModified = time.Now()
	s.mu.Unlock()
}

// SetScenes 替换分镜集合，同一 id 保留先出现的分镜
func (s *Session) SetScenes(scenes []models.Scene) {
	var merged []models.Scene
	for _, sc := range scenes {
		merged, _ = models.MergeScene(merged, sc)
	}
	s.mu.Lock()
	s.scenes = merged
	s.lastModified = time.Now()
	s.mu.Unlock()
}

// AddCharacter 新增空白角色（新 id）
func (s *Session) AddCharacter() models.CharacterProfile {
	c := models.CharacterProfile{ID: uuid.NewString()}
	s.mu.Lock()
	s.characters = append(s.characters, c)
	s.lastModified = time.Now()
	s.mu.Unlock()
	return c
}

// UpdateCharacter 修改角色名称和描述，nil 字段保持不变
func (s *Session) UpdateCharacter(id string, name, description *string) (models.CharacterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.characters {
		if s.characters[i].ID != id {
			continue
		}
		if name != nil {
			s.characters[i].Name = *name
		}
		if description != nil {
			s.characters[i].Description = *description
		}
		s.lastModified = time.Now()
		return s.characters[i], nil
	}
	return models.CharacterProfile{}, ErrNotFound
}

func (s *Session) RemoveCharacter(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.characters {
		if s.characters[i].ID == id {
			s.characters = append(s.characters[:i:i], s.characters[i+1:]...)
			s.lastModified = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (s *Session) UpdateScenePrompt(sceneID int, prompt string) (models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out models.Scene
	ok := models.UpdateScene(s.scenes, sceneID, func(sc *models.Scene) {
		sc.Prompt = prompt
		out = *sc
	})
	if !ok {
		return models.Scene{}, ErrNotFound
	}
	s.lastModified = time.Now()
	return out, nil
}

func (s *Session) Character(id string) (models.CharacterProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findCharacter(s.characters, id)
}

func (s *Session) Scene(id int) (models.Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.FindScene(s.scenes, id)
}

func findCharacter(chars []models.CharacterProfile, id string) (models.CharacterProfile, bool) {
	for _, c := range chars {
		if c.ID == id {
			return c, true
		}
	}
	return models.CharacterProfile{}, false
}

func updateCharacter(chars []models.CharacterProfile, id string, fn func(*models.CharacterProfile)) bool {
	for i := range chars {
		if chars[i].ID == id {
			fn(&chars[i])
			return true
		}
	}
	return false
}

// View 会话的只读副本，用于展示
type View struct {
	ID              string                    `json:"id"`
	Name            string                    `json:"name"`
	Epoch           uint64                    `json:"epoch"`
	Language        models.Language           `json:"language"`
	Characters      []models.CharacterProfile `json:"characters"`
	StoryIdea       string                    `json:"storyIdea"`
	GeneratedScript string                    `json:"generatedScript"`
	VideoConfig     models.VideoConfig        `json:"videoConfig"`
	Duration        models.DurationFeedback   `json:"durationFeedback"`
	Scenes          []models.Scene            `json:"scenes"`
	Progress        models.GenerationProgress `json:"progress"`
	StatusMessage   string                    `json:"statusMessage,omitempty"`
	Complete        bool                      `json:"isGenerationComplete"`
	Incomplete      *Incomplete               `json:"incomplete,omitempty"`
	Error           string                    `json:"error,omitempty"`
	Running         []string                  `json:"running,omitempty"`
	LastModified    int64                     `json:"lastModified"`
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		ID:              s.ID,
		Name:            models.ProjectName(s.storyIdea, s.language),
		Epoch:           s.epoch,
		Language:        s.language,
		Characters:      models.CloneCharacters(s.characters),
		StoryIdea:       s.storyIdea,
		GeneratedScript: s.script,
		VideoConfig:     s.config,
		Duration:        models.FeedbackFor(s.config.Duration),
		Scenes:          models.CloneScenes(s.scenes),
		Progress:        s.progress,
		StatusMessage:   s.statusMessage,
		Complete:        s.complete,
		Error:           s.lastError,
		LastModified:    s.lastModified.UnixMilli(),
	}
	if s.incomplete != nil {
		inc := *s.incomplete
		v.Incomplete = &inc
	}
	for op := range s.busy {
		v.Running = append(v.Running, op)
	}
	return v
}

// Snapshot 会话中需要保存的部分
func (s *Session) Snapshot() *models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &models.Project{
		ID:              s.ID,
		Name:            models.ProjectName(s.storyIdea, s.language),
		Language:        string(s.language),
		Characters:      models.CharacterList(stripTransient(s.characters)),
		StoryIdea:       s.storyIdea,
		GeneratedScript: s.script,
		VideoConfig:     models.VideoConfigJSON(s.config),
		Scenes:          models.SceneList(stripTransientScenes(s.scenes)),
		LastModified:    s.lastModified.UnixMilli(),
	}
}

// Restore 用已保存的项目替换会话。与 Reset 一样递增 epoch，运行中的操作不会写入加载的项目
func (s *Session) Restore(p *models.Project) {
	s.mu.Lock()
	s.epoch++
	s.clear(models.ParseLanguage(p.Language))
	s.characters = stripTransient(p.Characters)
	s.storyIdea = p.StoryIdea
	s.script = p.GeneratedScript
	s.config = models.VideoConfig(p.VideoConfig)
	for _, sc := range stripTransientScenes(p.Scenes) {
		s.scenes, _ = models.MergeScene(s.scenes, sc)
	}
	s.progress = models.GenerationProgress{Current: len(s.scenes), Total: models.TargetSceneCount(s.config.Duration)}
	s.complete = len(s.scenes) > 0 && len(s.scenes) >= s.progress.Total
	if p.LastModified > 0 {
		s.lastModified = time.UnixMilli(p.LastModified)
	}
	epoch := s.epoch
	s.mu.Unlock()

	s.publish(Event{Type: EventReset, Epoch: epoch})
}

func stripTransient(chars []models.CharacterProfile) []models.CharacterProfile {
	out := models.CloneCharacters(chars)
	for i := range out {
		out[i].IsGeneratingImage = false
	}
	return out
}

func stripTransientScenes(scenes []models.Scene) []models.Scene {
	out := models.CloneScenes(scenes)
	for i := range out {
		out[i].IsGeneratingImage = false
	}
	return out
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
