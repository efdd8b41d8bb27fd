package service

import (
	"context"
	"testing"

	"storyboard-server/config"
	"storyboard-server/models"
	"storyboard-server/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGen struct {
	batches [][]models.Scene
	calls   int
}

func (g *stubGen) StoryIdea(context.Context, string, models.Language) (string, error) {
	return "Lighthouse keeper\nfinds a message in a bottle.", nil
}

func (g *stubGen) Script(context.Context, string, []models.CharacterProfile, models.VideoConfig, models.Language) (string, error) {
	return "INT. LIGHTHOUSE - NIGHT", nil
}

func (g *stubGen) CharacterProfiles(context.Context, string, int, models.Language) ([]models.CharacterProfile, error) {
	return []models.CharacterProfile{{ID: "c1", Name: "Ana", Description: "keeper"}}, nil
}

func (g *stubGen) SceneBatch(context.Context, []models.CharacterProfile, string, models.VideoConfig, models.Language, []models.Scene) ([]models.Scene, error) {
	g.calls++
	if g.calls <= len(g.batches) {
		return g.batches[g.calls-1], nil
	}
	return nil, nil
}

func (g *stubGen) CharacterImage(context.Context, string) (string, error) {
	return "data:image/png;base64,cmVm", nil
}

func (g *stubGen) SceneImage(context.Context, string, string) (string, error) {
	return "data:image/png;base64,aW1n", nil
}

func newTestProcessor(gen *stubGen) (*Processor, *session.Session) {
	mgr := session.NewManager(models.LanguageEnglish)
	actions := session.NewActions(gen, config.GenerationConfig{BatchSize: 10, MaxStagnantAttempts: 2})
	return NewProcessor(nil, mgr, actions), mgr.Create(models.LanguageEnglish)
}

func TestRunStoryIdea(t *testing.T) {
	p, s := newTestProcessor(&stubGen{})
	task := &models.Task{ID: "t1", ProjectId: s.ID, Type: models.TaskTypeStoryIdea, Parameters: models.TaskParameters{Epoch: s.Epoch()}}

	res, err := p.Run(context.Background(), task)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Text, "Lighthouse keeper")
	assert.Equal(t, "Lighthouse keeper", s.Name())
}

func TestRunStoryboard(t *testing.T) {
	gen := &stubGen{batches: [][]models.Scene{
		{{SceneID: 1, Prompt: "a"}, {SceneID: 2, Prompt: "b"}},
	}}
	p, s := newTestProcessor(gen)
	s.SetScript("INT. LIGHTHOUSE - NIGHT")
	cfg := models.DefaultVideoConfig()
	cfg.Duration = 16
	s.SetVideoConfig(cfg)

	task := &models.Task{ProjectId: s.ID, Type: models.TaskTypeStoryboard, Parameters: models.TaskParameters{Epoch: s.Epoch()}}
	res, err := p.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scenes)
	assert.Equal(t, 2, res.Target)
	assert.True(t, res.Complete)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 1, res.Batches)
}

func TestRunResumeIncomplete(t *testing.T) {
	p, s := newTestProcessor(&stubGen{})
	s.SetScript("script")
	cfg := models.DefaultVideoConfig()
	cfg.Duration = 24
	s.SetVideoConfig(cfg)

	task := &models.Task{ProjectId: s.ID, Type: models.TaskTypeResume, Parameters: models.TaskParameters{Epoch: s.Epoch()}}
	res, err := p.Run(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Equal(t, 0, res.Scenes)
	assert.Equal(t, 3, res.Target)
	require.NotNil(t, s.View().Incomplete)
}

func TestRunStaleEpoch(t *testing.T) {
	p, s := newTestProcessor(&stubGen{})
	epoch := s.Epoch()
	s.Reset()

	task := &models.Task{ProjectId: s.ID, Type: models.TaskTypeStoryIdea, Parameters: models.TaskParameters{Epoch: epoch}}
	_, err := p.Run(context.Background(), task)
	assert.ErrorIs(t, err, session.ErrStale)
}

func TestRunCharacterImage(t *testing.T) {
	p, s := newTestProcessor(&stubGen{})
	c := s.AddCharacter()

	task := &models.Task{ProjectId: s.ID, Type: models.TaskTypeCharacterImage, Parameters: models.TaskParameters{CharacterID: c.ID, Epoch: s.Epoch()}}
	_, err := p.Run(context.Background(), task)
	require.NoError(t, err)
	got, ok := s.Character(c.ID)
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,cmVm", got.ImageUrl)
}

func TestRunErrors(t *testing.T) {
	p, s := newTestProcessor(&stubGen{})

	_, err := p.Run(context.Background(), &models.Task{ProjectId: "missing", Type: models.TaskTypeStoryIdea})
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = p.Run(context.Background(), &models.Task{ProjectId: s.ID, Type: "render_video", Parameters: models.TaskParameters{Epoch: s.Epoch()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task type")
}

func TestCancelRegistry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	RegisterCancel("t-cancel", cancel)

	assert.True(t, CancelTask("t-cancel"))
	assert.Error(t, ctx.Err())
	assert.False(t, CancelTask("t-cancel"))

	UnregisterCancel("t-cancel")
	assert.False(t, CancelTask("t-cancel"))
}
