package session

import (
	"context"
	"errors"
	"fmt"

	"storyboard-server/config"
	"storyboard-server/models"
	"storyboard-server/storyboard"

	"go.uber.org/zap"
)

// Generator 会话操作依赖的生成客户端
type Generator interface {
	StoryIdea(ctx context.Context, style string, lang models.Language) (string, error)
	Script(ctx context.Context, storyIdea string, chars []models.CharacterProfile, cfg models.VideoConfig, lang models.Language) (string, error)
	CharacterProfiles(ctx context.Context, scriptOrIdea string, duration int, lang models.Language) ([]models.CharacterProfile, error)
	SceneBatch(ctx context.Context, chars []models.CharacterProfile, script string, cfg models.VideoConfig, lang models.Language, existing []models.Scene) ([]models.Scene, error)
	CharacterImage(ctx context.Context, description string) (string, error)
	SceneImage(ctx context.Context, scenePrompt, reference string) (string, error)
}

// Actions 在会话上执行生成操作。每个操作都带有调用方看到的 epoch，
// 会话在此之后被重置时操作返回 ErrStale，不写入任何内容
type Actions struct {
	gen         Generator
	batchSize   int
	maxStagnant int
}

func NewActions(gen Generator, cfg config.GenerationConfig) *Actions {
	return &Actions{gen: gen, batchSize: cfg.BatchSize, maxStagnant: cfg.MaxStagnantAttempts}
}

func notReady(reason string) error {
	return fmt.Errorf("%w: %s", ErrNotReady, reason)
}

// 前置条件检查，调用时须持有会话锁

func (s *Session) ideaReady() error {
	if blank(s.config.Style) {
		return notReady("video style is empty")
	}
	return nil
}

func (s *Session) charactersReady() error {
	if blank(s.storyIdea) {
		return notReady("story idea is empty")
	}
	return nil
}

func (s *Session) scriptReady() error {
	switch {
	case len(s.characters) == 0:
		return notReady("at least one character is required")
	case blank(s.storyIdea):
		return notReady("story idea is empty")
	case !s.config.Valid():
		return notReady("duration must be a positive multiple of 8 seconds")
	}
	for _, c := range s.characters {
		if blank(c.Description) {
			return notReady(fmt.Sprintf("character %q has no description", c.Name))
		}
	}
	return nil
}

func (s *Session) storyboardReady() error {
	if blank(s.script) {
		return notReady("script is empty")
	}
	if !s.config.Valid() {
		return notReady("duration must be a positive multiple of 8 seconds")
	}
	return nil
}

// Ready 检查 op 当前能否开始。仅供参考，操作执行时会再次检查
func (s *Session) Ready(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		lock  string
		check func() error
	)
	switch op {
	case "idea":
		lock, check = opIdea, s.ideaReady
	case "characters":
		lock, check = opCharacters, s.charactersReady
	case "script":
		lock, check = opMain, s.scriptReady
	case "storyboard", "resume":
		lock, check = opMain, s.storyboardReady
	case "images":
		lock = opImages
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	if s.busy[lock] {
		return ErrBusy
	}
	if check != nil {
		return check()
	}
	return nil
}

// CharacterImageReady 角色参考图请求的前置检查
func (s *Session) CharacterImageReady(characterID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := findCharacter(s.characters, characterID)
	if !ok {
		return ErrNotFound
	}
	if c.IsGeneratingImage {
		return ErrBusy
	}
	return nil
}

// SceneImageReady 以角色为参考生成分镜图的前置检查，sceneID 为 0 时检查批量操作
func (s *Session) SceneImageReady(characterID string, sceneID int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := findCharacter(s.characters, characterID)
	if !ok {
		return ErrNotFound
	}
	if c.ImageUrl == "" {
		return notReady(noReferenceImage)
	}
	if sceneID == 0 {
		if s.busy[opImages] {
			return ErrBusy
		}
		return nil
	}
	sc, ok := models.FindScene(s.scenes, sceneID)
	if !ok {
		return ErrNotFound
	}
	if sc.IsGeneratingImage {
		return ErrBusy
	}
	return nil
}

func (a *Actions) fail(s *Session, epoch uint64, op string, err error) error {
	if errors.Is(err, ErrStale) {
		zap.L().Info("discarding stale result", zap.String("project_id", s.ID), zap.String("op", op))
		return err
	}
	zap.L().Error("session action failed", zap.String("project_id", s.ID), zap.String("op", op), zap.Error(err))
	s.setError(epoch, err.Error())
	return err
}

// GenerateStoryIdea 生成故事构思并替换原有内容
func (a *Actions) GenerateStoryIdea(ctx context.Context, s *Session, epoch uint64) (string, error) {
	var (
		style string
		lang  models.Language
	)
	err := s.begin(epoch, opIdea, func() error {
		style, lang = s.config.Style, s.language
		return s.ideaReady()
	})
	if err != nil {
		return "", err
	}
	defer s.end(epoch, opIdea)

	idea, err := a.gen.StoryIdea(ctx, style, lang)
	if err != nil {
		return "", a.fail(s, epoch, "idea", err)
	}
	if err := s.commit(epoch, func() { s.storyIdea = idea }); err != nil {
		return "", a.fail(s, epoch, "idea", err)
	}
	s.publish(Event{Type: EventStoryIdea, Epoch: epoch, Message: idea})
	return idea, nil
}

// GenerateCharacters 从故事构思生成角色并替换角色列表
func (a *Actions) GenerateCharacters(ctx context.Context, s *Session, epoch uint64) ([]models.CharacterProfile, error) {
	var (
		idea     string
		duration int
		lang     models.Language
	)
	err := s.begin(epoch, opCharacters, func() error {
		idea, duration, lang = s.storyIdea, s.config.Duration, s.language
		return s.charactersReady()
	})
	if err != nil {
		return nil, err
	}
	defer s.end(epoch, opCharacters)

	chars, err := a.gen.CharacterProfiles(ctx, idea, duration, lang)
	if err != nil {
		return nil, a.fail(s, epoch, "characters", err)
	}
	if err := s.commit(epoch, func() { s.characters = models.CloneCharacters(chars) }); err != nil {
		return nil, a.fail(s, epoch, "characters", err)
	}
	s.publish(Event{Type: EventCharacters, Epoch: epoch})
	return chars, nil
}

// GenerateScript 生成新剧本，请求前清空基于旧剧本的分镜
func (a *Actions) GenerateScript(ctx context.Context, s *Session, epoch uint64) (string, error) {
	var (
		idea  string
		chars []models.CharacterProfile
		cfg   models.VideoConfig
		lang  models.Language
	)
	err := s.begin(epoch, opMain, func() error {
		if err := s.scriptReady(); err != nil {
			return err
		}
		idea, chars, cfg, lang = s.storyIdea, models.CloneCharacters(s.characters), s.config, s.language
		s.script = ""
		s.scenes = nil
		s.complete = false
		s.incomplete = nil
		s.progress = models.GenerationProgress{}
		return nil
	})
	if err != nil {
		return "", err
	}
	defer s.end(epoch, opMain)

	script, err := a.gen.Script(ctx, idea, chars, cfg, lang)
	if err != nil {
		return "", a.fail(s, epoch, "script", err)
	}
	if err := s.commit(epoch, func() { s.script = script }); err != nil {
		return "", a.fail(s, epoch, "script", err)
	}
	s.publish(Event{Type: EventScript, Epoch: epoch})
	return script, nil
}

// Resume 清除未完成标记，从当前已有的分镜继续生成
func (a *Actions) Resume(ctx context.Context, s *Session, epoch uint64) (*storyboard.Result, error) {
	zap.L().Info("resuming storyboard generation", zap.String("project_id", s.ID))
	return a.GenerateStoryboard(ctx, s, epoch)
}

// GenerateStoryboard 驱动累积器直到达到目标分镜数或停滞次数用尽，会话中已有的分镜作为起点
func (a *Actions) GenerateStoryboard(ctx context.Context, s *Session, epoch uint64) (*storyboard.Result, error) {
	var (
		chars  []models.CharacterProfile
		script string
		cfg    models.VideoConfig
		lang   models.Language
		seed   []models.Scene
		target int
	)
	err := s.begin(epoch, opMain, func() error {
		if err := s.storyboardReady(); err != nil {
			return err
		}
		chars, script, cfg, lang = models.CloneCharacters(s.characters), s.script, s.config, s.language
		seed = models.CloneScenes(s.scenes)
		target = models.TargetSceneCount(cfg.Duration)
		s.complete = false
		s.incomplete = nil
		s.progress = models.GenerationProgress{Current: len(s.scenes), Total: target}
		s.statusMessage = messagesFor(lang).preparing
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer s.end(epoch, opMain)

	msgs := messagesFor(lang)
	log := zap.L().With(zap.String("project_id", s.ID), zap.Int("target", target))
	s.publish(Event{Type: EventStatus, Epoch: epoch, Message: msgs.preparing})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stale := false

	src := storyboard.BatchSourceFunc(func(ctx context.Context, existing []models.Scene) ([]models.Scene, error) {
		return a.gen.SceneBatch(ctx, chars, script, cfg, lang, existing)
	})
	sink := func(ev storyboard.Event) {
		if stale {
			return
		}
		var (
			out  Event
			cerr error
		)
		switch ev.Type {
		case storyboard.EventBatchRequested:
			log.Info("requesting scene batch", zap.Int("batch", ev.Batch), zap.Int("have", ev.Progress.Current))
			msg := msgs.requesting(ev.Batch)
			cerr = s.commit(epoch, func() { s.statusMessage = msg })
			out = Event{Type: EventStatus, Message: msg}
		case storyboard.EventSceneInserted:
			scene := *ev.Scene
			var progress models.GenerationProgress
			cerr = s.commit(epoch, func() {
				s.scenes, _ = models.MergeScene(s.scenes, scene)
				s.progress = models.GenerationProgress{Current: len(s.scenes), Total: target}
				progress = s.progress
			})
			out = Event{Type: EventSceneInserted, Scene: &scene, Progress: &progress}
		case storyboard.EventStagnated:
			log.Warn("scene batch added nothing new", zap.Int("stagnant", ev.Stagnant))
			return
		default:
			return
		}
		if cerr != nil {
			stale = true
			cancel()
			return
		}
		out.Epoch = epoch
		s.publish(out)
	}

	res, err := storyboard.New(src, a.batchSize, a.maxStagnant).Run(runCtx, seed, target, sink)
	if stale {
		return nil, a.fail(s, epoch, "storyboard", ErrStale)
	}
	if err != nil {
		_ = s.commit(epoch, func() { s.statusMessage = "" })
		return res, a.fail(s, epoch, "storyboard", err)
	}

	var incompleteMsg string
	cerr := s.commit(epoch, func() {
		s.statusMessage = ""
		s.progress = models.GenerationProgress{Current: len(s.scenes), Total: target}
		if len(s.scenes) >= target {
			s.complete = true
			return
		}
		s.incomplete = &Incomplete{Achieved: len(s.scenes), Target: target}
		incompleteMsg = msgs.incomplete(len(s.scenes), target)
		s.lastError = incompleteMsg
	})
	if cerr != nil {
		return nil, a.fail(s, epoch, "storyboard", cerr)
	}

	progress := models.GenerationProgress{Current: res.Achieved(), Total: target}
	if incompleteMsg != "" {
		log.Warn("storyboard generation incomplete", zap.Int("achieved", res.Achieved()), zap.Int("batches", res.Batches))
		s.publish(Event{Type: EventIncomplete, Epoch: epoch, Message: incompleteMsg, Progress: &progress})
	} else {
		log.Info("storyboard generation complete", zap.Int("batches", res.Batches))
		s.publish(Event{Type: EventComplete, Epoch: epoch, Progress: &progress})
	}
	return res, nil
}

// GenerateCharacterImage 生成角色参考图
func (a *Actions) GenerateCharacterImage(ctx context.Context, s *Session, epoch uint64, characterID string) (string, error) {
	var desc string
	err := s.commitChecked(epoch, func() error {
		c, ok := findCharacter(s.characters, characterID)
		if !ok {
			return ErrNotFound
		}
		if c.IsGeneratingImage {
			return ErrBusy
		}
		desc = c.Description
		updateCharacter(s.characters, characterID, func(c *models.CharacterProfile) { c.IsGeneratingImage = true })
		return nil
	})
	if err != nil {
		return "", err
	}

	uri, genErr := a.gen.CharacterImage(ctx, desc)
	var updated models.CharacterProfile
	err = s.commit(epoch, func() {
		updateCharacter(s.characters, characterID, func(c *models.CharacterProfile) {
			c.IsGeneratingImage = false
			if genErr == nil {
				c.ImageUrl = uri
			}
			updated = *c
		})
	})
	if genErr != nil {
		return "", a.fail(s, epoch, "character_image", genErr)
	}
	if err != nil {
		return "", a.fail(s, epoch, "character_image", err)
	}
	s.publish(Event{Type: EventCharacterImage, Epoch: epoch, Character: &updated})
	return uri, nil
}

// GenerateSceneImage 以角色参考图生成单个分镜图，失败只影响该分镜
func (a *Actions) GenerateSceneImage(ctx context.Context, s *Session, epoch uint64, sceneID int, characterID string) (string, error) {
	var prompt, reference string
	err := s.commitChecked(epoch, func() error {
		sc, ok := models.FindScene(s.scenes, sceneID)
		if !ok {
			return ErrNotFound
		}
		c, ok := findCharacter(s.characters, characterID)
		if !ok {
			return ErrNotFound
		}
		if c.ImageUrl == "" {
			return notReady(noReferenceImage)
		}
		if sc.IsGeneratingImage {
			return ErrBusy
		}
		prompt, reference = sc.Prompt, c.ImageUrl
		models.UpdateScene(s.scenes, sceneID, func(sc *models.Scene) { sc.IsGeneratingImage = true })
		return nil
	})
	if err != nil {
		return "", err
	}

	uri, err := a.renderScene(ctx, s, epoch, sceneID, prompt, reference)
	if err != nil {
		return "", a.fail(s, epoch, "scene_image", err)
	}
	return uri, nil
}

// GenerateAllSceneImages 按顺序为所有尚无图片的分镜生图，遇到第一个失败即停止整批
func (a *Actions) GenerateAllSceneImages(ctx context.Context, s *Session, epoch uint64, characterID string) (int, error) {
	var (
		reference string
		pending   []models.Scene
	)
	err := s.begin(epoch, opImages, func() error {
		c, ok := findCharacter(s.characters, characterID)
		if !ok {
			return ErrNotFound
		}
		if c.ImageUrl == "" {
			return notReady(noReferenceImage)
		}
		reference = c.ImageUrl
		for _, sc := range models.SortedScenes(s.scenes) {
			if sc.ImageUrl == "" && !sc.IsGeneratingImage {
				pending = append(pending, sc)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	defer s.end(epoch, opImages)

	done := 0
	for _, sc := range pending {
		err := s.commitChecked(epoch, func() error {
			if !models.UpdateScene(s.scenes, sc.SceneID, func(x *models.Scene) { x.IsGeneratingImage = true }) {
				return ErrNotFound
			}
			return nil
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return done, a.fail(s, epoch, "images", err)
		}
		if _, err := a.renderScene(ctx, s, epoch, sc.SceneID, sc.Prompt, reference); err != nil {
			if errors.Is(err, ErrStale) {
				return done, a.fail(s, epoch, "images", err)
			}
			zap.L().Error("batch scene image failed", zap.String("project_id", s.ID), zap.Int("scene_id", sc.SceneID), zap.Error(err))
			s.setError(epoch, batchImageFailed(sc.SceneID))
			return done, fmt.Errorf("scene %d: %w", sc.SceneID, err)
		}
		done++
	}
	return done, nil
}

// renderScene 请求分镜图并清除生成中标记。按 id 写回，不影响并发插入的分镜
func (a *Actions) renderScene(ctx context.Context, s *Session, epoch uint64, sceneID int, prompt, reference string) (string, error) {
	uri, genErr := a.gen.SceneImage(ctx, prompt, reference)
	var updated models.Scene
	err := s.commit(epoch, func() {
		models.UpdateScene(s.scenes, sceneID, func(sc *models.Scene) {
			sc.IsGeneratingImage = false
			if genErr == nil {
				sc.ImageUrl = uri
			}
			updated = *sc
		})
	})
	if genErr != nil {
		return "", genErr
	}
	if err != nil {
		return "", err
	}
	s.publish(Event{Type: EventSceneImage, Epoch: epoch, Scene: &updated})
	return uri, nil
}
