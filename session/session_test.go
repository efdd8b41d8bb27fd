package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"storyboard-server/config"
	"storyboard-server/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const refImage = "data:image/png;base64,cmVm"

type fakeGen struct {
	mu         sync.Mutex
	idea       func(ctx context.Context) (string, error)
	script     string
	chars      []models.CharacterProfile
	batches    [][]models.Scene
	batchCalls int
	sceneImage func(prompt string) (string, error)
	imageCalls []string
}

func (f *fakeGen) StoryIdea(ctx context.Context, _ string, _ models.Language) (string, error) {
	if f.idea != nil {
		return f.idea(ctx)
	}
	return "A quiet town\nwakes up to snow.", nil
}

func (f *fakeGen) Script(_ context.Context, _ string, _ []models.CharacterProfile, _ models.VideoConfig, _ models.Language) (string, error) {
	return f.script, nil
}

func (f *fakeGen) CharacterProfiles(_ context.Context, _ string, _ int, _ models.Language) ([]models.CharacterProfile, error) {
	return f.chars, nil
}

func (f *fakeGen) SceneBatch(_ context.Context, _ []models.CharacterProfile, _ string, _ models.VideoConfig, _ models.Language, _ []models.Scene) ([]models.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchCalls <= len(f.batches) {
		return f.batches[f.batchCalls-1], nil
	}
	return nil, nil
}

func (f *fakeGen) CharacterImage(_ context.Context, _ string) (string, error) {
	return refImage, nil
}

func (f *fakeGen) SceneImage(_ context.Context, prompt, _ string) (string, error) {
	f.mu.Lock()
	f.imageCalls = append(f.imageCalls, prompt)
	f.mu.Unlock()
	if f.sceneImage != nil {
		return f.sceneImage(prompt)
	}
	return "data:image/png;base64,AA==", nil
}

func newActions(gen Generator) *Actions {
	return NewActions(gen, config.GenerationConfig{BatchSize: 10, MaxStagnantAttempts: 5})
}

func scene(id int) models.Scene {
	return models.Scene{SceneID: id, Time: "00:00", Prompt: "prompt " + string(rune('0'+id))}
}

func readySession(duration int) *Session {
	s := New(models.LanguageEnglish)
	s.SetStoryIdea("Snow Day")
	s.SetCharacters([]models.CharacterProfile{{ID: "c1", Name: "Ana", Description: "a kid", ImageUrl: refImage}})
	cfg := models.DefaultVideoConfig()
	cfg.Duration = duration
	s.SetVideoConfig(cfg)
	s.SetScript("EXT. STREET - DAY")
	return s
}

func sceneIDs(scenes []models.Scene) []int {
	out := make([]int, len(scenes))
	for i, s := range scenes {
		out[i] = s.SceneID
	}
	return out
}

func TestSession_NameAndReset(t *testing.T) {
	s := New(models.LanguageEnglish)
	assert.False(t, s.HasContent())
	assert.Equal(t, "Untitled Project", s.Name())

	s.SetStoryIdea("The Snow Day\nEveryone stays home.")
	assert.Equal(t, "The Snow Day", s.Name())

	before := s.Epoch()
	assert.True(t, s.Reset())
	assert.Equal(t, before+1, s.Epoch())

	v := s.View()
	assert.Empty(t, v.StoryIdea)
	assert.Empty(t, v.Scenes)
	assert.Equal(t, models.DefaultStyle, v.VideoConfig.Style)
	assert.False(t, s.Reset())
}

func TestSession_CharacterEditing(t *testing.T) {
	s := New(models.LanguageEnglish)
	c := s.AddCharacter()
	require.NotEmpty(t, c.ID)

	name, desc := "Ana", "a kid in a red coat"
	updated, err := s.UpdateCharacter(c.ID, &name, &desc)
	require.NoError(t, err)
	assert.Equal(t, "Ana", updated.Name)

	_, err = s.UpdateCharacter("missing", &name, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RemoveCharacter(c.ID))
	assert.ErrorIs(t, s.RemoveCharacter(c.ID), ErrNotFound)
	assert.Empty(t, s.View().Characters)
}

func TestSession_DurationMinutes(t *testing.T) {
	s := New(models.LanguageEnglish)
	assert.Equal(t, 120, s.SetDurationMinutes("2"))
	v := s.View()
	assert.Equal(t, models.DurationFeedback{Scenes: 15, Minutes: 2}, v.Duration)
	assert.Zero(t, s.SetDurationMinutes("abc"))
}

func TestActions_StoryIdeaStaleAfterReset(t *testing.T) {
	s := New(models.LanguageEnglish)
	gen := &fakeGen{}
	gen.idea = func(context.Context) (string, error) {
		s.Reset()
		return "late idea", nil
	}

	_, err := newActions(gen).GenerateStoryIdea(context.Background(), s, s.Epoch())
	require.ErrorIs(t, err, ErrStale)
	assert.Empty(t, s.View().StoryIdea)
	assert.Empty(t, s.View().Error)
}

func TestActions_StaleEpochRejectedUpFront(t *testing.T) {
	s := readySession(24)
	epoch := s.Epoch()
	s.Reset()

	_, err := newActions(&fakeGen{}).GenerateStoryboard(context.Background(), s, epoch)
	assert.ErrorIs(t, err, ErrStale)
}

func TestActions_Readiness(t *testing.T) {
	a := newActions(&fakeGen{})
	ctx := context.Background()

	s := New(models.LanguageEnglish)
	_, err := a.GenerateCharacters(ctx, s, s.Epoch())
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = a.GenerateScript(ctx, s, s.Epoch())
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = a.GenerateStoryboard(ctx, s, s.Epoch())
	assert.ErrorIs(t, err, ErrNotReady)

	s.SetStoryIdea("idea")
	s.SetCharacters([]models.CharacterProfile{{ID: "c1", Name: "Ana", Description: "  "}})
	cfg := models.DefaultVideoConfig()
	cfg.Duration = 120
	s.SetVideoConfig(cfg)
	_, err = a.GenerateScript(ctx, s, s.Epoch())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "Ana")

	assert.ErrorIs(t, s.Ready("storyboard"), ErrNotReady)
	assert.NoError(t, s.Ready("characters"))
	assert.Error(t, s.Ready("bogus"))
}

func TestActions_GenerateScriptResetsStoryboard(t *testing.T) {
	s := readySession(24)
	s.SetScenes([]models.Scene{scene(1), scene(2)})
	gen := &fakeGen{script: "NEW SCRIPT"}

	script, err := newActions(gen).GenerateScript(context.Background(), s, s.Epoch())
	require.NoError(t, err)
	assert.Equal(t, "NEW SCRIPT", script)

	v := s.View()
	assert.Equal(t, "NEW SCRIPT", v.GeneratedScript)
	assert.Empty(t, v.Scenes)
	assert.False(t, v.Complete)
	assert.Empty(t, v.Running)
}

func TestActions_GenerateCharacters(t *testing.T) {
	s := New(models.LanguageEnglish)
	s.SetStoryIdea("idea")
	gen := &fakeGen{chars: []models.CharacterProfile{{ID: "x", Name: "Bo", Description: "dog"}}}

	chars, err := newActions(gen).GenerateCharacters(context.Background(), s, s.Epoch())
	require.NoError(t, err)
	assert.Len(t, chars, 1)
	c, ok := s.Character("x")
	require.True(t, ok)
	assert.Equal(t, "Bo", c.Name)
}

func TestActions_GenerateStoryboardComplete(t *testing.T) {
	s := readySession(24)
	gen := &fakeGen{batches: [][]models.Scene{{scene(1), scene(2)}, {scene(2), scene(3)}}}
	events, cancel := s.Events().Subscribe()
	defer cancel()

	res, err := newActions(gen).GenerateStoryboard(context.Background(), s, s.Epoch())
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 2, gen.batchCalls)

	v := s.View()
	assert.True(t, v.Complete)
	assert.Nil(t, v.Incomplete)
	assert.Equal(t, []int{1, 2, 3}, sceneIDs(v.Scenes))
	assert.Equal(t, models.GenerationProgress{Current: 3, Total: 3}, v.Progress)
	assert.Empty(t, v.StatusMessage)

	var inserted []int
	var last Event
	for len(events) > 0 {
		ev := <-events
		if ev.Type == EventSceneInserted {
			inserted = append(inserted, ev.Scene.SceneID)
		}
		last = ev
	}
	assert.Equal(t, []int{1, 2, 3}, inserted)
	assert.Equal(t, EventComplete, last.Type)
}

func TestActions_IncompleteThenResume(t *testing.T) {
	s := readySession(40)
	gen := &fakeGen{batches: [][]models.Scene{{scene(1), scene(2)}}}
	a := newActions(gen)

	res, err := a.GenerateStoryboard(context.Background(), s, s.Epoch())
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Equal(t, 6, gen.batchCalls)

	v := s.View()
	require.NotNil(t, v.Incomplete)
	assert.Equal(t, Incomplete{Achieved: 2, Target: 5}, *v.Incomplete)
	assert.Equal(t, "Generation stopped. Only 2 out of 5 scenes were created. Would you like to try resuming?", v.Error)

	// Calls 7-11 stay empty; call 12 delivers the rest.
	gen.batches = append(make([][]models.Scene, 11), []models.Scene{scene(3), scene(4), scene(5)})
	_, err = a.Resume(context.Background(), s, s.Epoch())
	require.NoError(t, err)
	assert.Equal(t, 11, gen.batchCalls)
	assert.NotNil(t, s.View().Incomplete)

	_, err = a.Resume(context.Background(), s, s.Epoch())
	require.NoError(t, err)
	v = s.View()
	assert.True(t, v.Complete)
	assert.Nil(t, v.Incomplete)
	assert.Empty(t, v.Error)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, sceneIDs(v.Scenes))
}

func TestActions_StoryboardBusy(t *testing.T) {
	s := readySession(24)
	epoch := s.Epoch()
	require.NoError(t, s.begin(epoch, opMain, nil))

	_, err := newActions(&fakeGen{}).GenerateStoryboard(context.Background(), s, epoch)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, s.Ready("script"), ErrBusy)

	s.end(epoch, opMain)
	assert.NoError(t, s.Ready("storyboard"))
}

func TestActions_SceneImage(t *testing.T) {
	s := readySession(24)
	s.SetScenes([]models.Scene{scene(1), scene(2)})
	a := newActions(&fakeGen{})

	uri, err := a.GenerateSceneImage(context.Background(), s, s.Epoch(), 2, "c1")
	require.NoError(t, err)
	sc, _ := s.Scene(2)
	assert.Equal(t, uri, sc.ImageUrl)
	assert.False(t, sc.IsGeneratingImage)

	_, err = a.GenerateSceneImage(context.Background(), s, s.Epoch(), 9, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActions_SceneImageFailureIsIsolated(t *testing.T) {
	s := readySession(24)
	s.SetScenes([]models.Scene{scene(1)})
	gen := &fakeGen{sceneImage: func(string) (string, error) { return "", errors.New("no image data") }}

	_, err := newActions(gen).GenerateSceneImage(context.Background(), s, s.Epoch(), 1, "c1")
	require.Error(t, err)
	sc, _ := s.Scene(1)
	assert.False(t, sc.IsGeneratingImage)
	assert.Empty(t, sc.ImageUrl)
	assert.Contains(t, s.View().Error, "no image data")
}

func TestActions_AllSceneImagesStopsOnFirstFailure(t *testing.T) {
	s := readySession(32)
	scenes := []models.Scene{scene(1), scene(2), scene(3), scene(4)}
	scenes[1].ImageUrl = "data:image/png;base64,old"
	s.SetScenes(scenes)

	gen := &fakeGen{sceneImage: func(prompt string) (string, error) {
		if strings.HasSuffix(prompt, "3") {
			return "", errors.New("quota exceeded")
		}
		return "data:image/png;base64,new", nil
	}}

	done, err := newActions(gen).GenerateAllSceneImages(context.Background(), s, s.Epoch(), "c1")
	require.Error(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, []string{"prompt 1", "prompt 3"}, gen.imageCalls)

	v := s.View()
	assert.Equal(t, "Failed to generate image for Scene 3. Batch process stopped.", v.Error)
	assert.Equal(t, "data:image/png;base64,new", v.Scenes[0].ImageUrl)
	assert.Equal(t, "data:image/png;base64,old", v.Scenes[1].ImageUrl)
	assert.Empty(t, v.Scenes[2].ImageUrl)
	assert.False(t, v.Scenes[2].IsGeneratingImage)
	assert.Empty(t, v.Scenes[3].ImageUrl)
	assert.Empty(t, v.Running)
}

func TestActions_AllSceneImagesNeedsReference(t *testing.T) {
	s := readySession(24)
	s.SetCharacters([]models.CharacterProfile{{ID: "c2", Name: "Bo", Description: "dog"}})

	_, err := newActions(&fakeGen{}).GenerateAllSceneImages(context.Background(), s, s.Epoch(), "c2")
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "reference image")
}

func TestActions_CharacterImage(t *testing.T) {
	s := readySession(24)
	s.SetCharacters([]models.CharacterProfile{{ID: "c2", Name: "Bo", Description: "dog"}})

	uri, err := newActions(&fakeGen{}).GenerateCharacterImage(context.Background(), s, s.Epoch(), "c2")
	require.NoError(t, err)
	c, _ := s.Character("c2")
	assert.Equal(t, uri, c.ImageUrl)
	assert.False(t, c.IsGeneratingImage)
}

func TestManager_SaveLoad(t *testing.T) {
	m := NewManager(models.LanguageVietnamese)
	s := m.Create("")
	assert.Equal(t, models.LanguageVietnamese, s.Language())
	s.SetStoryIdea("Tuyết rơi")
	s.SetScenes([]models.Scene{scene(2), scene(1)})

	snap := s.Snapshot()
	assert.Equal(t, "Tuyết rơi", snap.Name)
	assert.Equal(t, []int{1, 2}, sceneIDs(snap.Scenes))

	require.NoError(t, m.Delete(s.ID))
	_, err := m.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	loaded := m.Load(snap)
	assert.Equal(t, s.ID, loaded.ID)
	v := loaded.View()
	assert.Equal(t, "Tuyết rơi", v.StoryIdea)
	assert.Equal(t, []int{1, 2}, sceneIDs(v.Scenes))

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, loaded, got)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	b.Publish(Event{Type: EventStatus, Message: "hi"})
	ev := <-ch
	assert.Equal(t, "hi", ev.Message)

	b.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestActions_SceneImageInterleavedWithStoryboard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGen{
		batches: [][]models.Scene{{scene(1), scene(2), scene(3), scene(4)}},
		sceneImage: func(string) (string, error) {
			close(entered)
			<-release
			return "data:image/png;base64,NQ==", nil
		},
	}
	a := newActions(gen)
	s := readySession(40)
	s.SetScenes([]models.Scene{scene(5)})
	epoch := s.Epoch()

	type imageResult struct {
		uri string
		err error
	}
	done := make(chan imageResult, 1)
	go func() {
		uri, err := a.GenerateSceneImage(context.Background(), s, epoch, 5, "c1")
		done <- imageResult{uri, err}
	}()
	<-entered

	res, err := a.GenerateStoryboard(context.Background(), s, epoch)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Achieved())

	close(release)
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, "data:image/png;base64,NQ==", got.uri)

	v := s.View()
	assert.True(t, v.Complete)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, sceneIDs(v.Scenes))
	for _, sc := range v.Scenes {
		assert.False(t, sc.IsGeneratingImage, "scene %d", sc.SceneID)
		if sc.SceneID == 5 {
			assert.Equal(t, got.uri, sc.ImageUrl)
		} else {
			assert.Empty(t, sc.ImageUrl, "scene %d", sc.SceneID)
		}
	}
}
