package routers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"storyboard-server/models"
	"storyboard-server/routers/api"
	"storyboard-server/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (d *recordingDispatcher) Dispatch(projectID, taskType string, params models.TaskParameters) (*models.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := models.Task{ID: "task-" + taskType, ProjectId: projectID, Type: taskType, Parameters: params}
	d.tasks = append(d.tasks, t)
	return &t, nil
}

type testServer struct {
	engine     *gin.Engine
	sessions   *session.Manager
	dispatcher *recordingDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		sessions:   session.NewManager(models.LanguageVietnamese),
		dispatcher: &recordingDispatcher{},
	}
	api.Setup(api.Deps{Sessions: ts.sessions, Dispatcher: ts.dispatcher})
	ts.engine = InitRouter()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

type projectResponse struct {
	Project session.View `json:"project"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) create(t *testing.T) *session.Session {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/v1/api/projects", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s, err := ts.sessions.Get(decode[projectResponse](t, w).Project.ID)
	require.NoError(t, err)
	return s
}

func TestCreateProject(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/api/projects", "")
	require.Equal(t, http.StatusCreated, w.Code)
	p := decode[projectResponse](t, w).Project
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, models.LanguageVietnamese, p.Language)
	assert.Equal(t, "Dự án chưa có tên", p.Name)

	w = ts.do(t, http.MethodPost, "/v1/api/projects", `{"language":"en"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.LanguageEnglish, decode[projectResponse](t, w).Project.Language)
}

func TestCreateProjectValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/api/projects", `{"language":"fr"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "language must be one of [en vi]")
}

func TestUnknownProject(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/v1/api/projects/nope",
		"/v1/api/projects/nope/scenes",
		"/v1/api/projects/nope/export/prompts",
	} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, "").Code)
		})
	}
}

func TestUpdateProject(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)

	w := ts.do(t, http.MethodPut, "/v1/api/projects/"+s.ID,
		`{"storyIdea":"The Lantern\nA girl follows a light.","minutes":"2","videoConfig":{"style":"anime","includeDialogue":true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[projectResponse](t, w).Project

	assert.Equal(t, "The Lantern", p.Name)
	assert.Equal(t, 120, p.VideoConfig.Duration)
	assert.Equal(t, "anime", p.VideoConfig.Style)
	assert.True(t, p.VideoConfig.IncludeDialogue)
	assert.Equal(t, models.DurationFeedback{Scenes: 15, Minutes: 2, Seconds: 0}, p.Duration)

	w = ts.do(t, http.MethodPut, "/v1/api/projects/"+s.ID, `{"minutes":"abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[projectResponse](t, w).Project.VideoConfig.Duration)
}

func TestResetProject(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)
	epoch := s.Epoch()

	w := ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"had_content":false`)

	s.SetStoryIdea("something")
	w = ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"had_content":true`)
	assert.Greater(t, s.Epoch(), epoch)
}

func TestCharacterEndpoints(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)

	w := ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/characters", "")
	require.Equal(t, http.StatusCreated, w.Code)
	ch := decode[struct {
		Character models.CharacterProfile `json:"character"`
	}](t, w).Character
	require.NotEmpty(t, ch.ID)

	base := "/v1/api/projects/" + s.ID + "/characters/" + ch.ID
	w = ts.do(t, http.MethodPut, base, `{"name":"Mai","description":"a lantern maker"}`)
	require.Equal(t, http.StatusOK, w.Code)
	got, ok := s.Character(ch.ID)
	require.True(t, ok)
	assert.Equal(t, "Mai", got.Name)
	assert.Equal(t, "a lantern maker", got.Description)

	w = ts.do(t, http.MethodPut, base, `{"name":"Lan"}`)
	require.Equal(t, http.StatusOK, w.Code)
	got, _ = s.Character(ch.ID)
	assert.Equal(t, "Lan", got.Name)
	assert.Equal(t, "a lantern maker", got.Description)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, base, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, base, "").Code)
}

func TestSceneEndpoints(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)
	s.SetScenes([]models.Scene{{SceneID: 2, Prompt: "b"}, {SceneID: 1, Prompt: "a"}})

	w := ts.do(t, http.MethodGet, "/v1/api/projects/"+s.ID+"/scenes", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Scenes []models.Scene `json:"scenes"`
		Total  int            `json:"total_scenes"`
	}](t, w)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.Scenes[0].SceneID)

	w = ts.do(t, http.MethodPut, "/v1/api/projects/"+s.ID+"/scenes/2", `{"prompt":"edited"}`)
	require.Equal(t, http.StatusOK, w.Code)
	sc, _ := s.Scene(2)
	assert.Equal(t, "edited", sc.Prompt)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/v1/api/projects/"+s.ID+"/scenes/2", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/v1/api/projects/"+s.ID+"/scenes/x", `{"prompt":"p"}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPut, "/v1/api/projects/"+s.ID+"/scenes/9", `{"prompt":"p"}`).Code)
}

func TestGenerateStep(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)
	path := "/v1/api/projects/" + s.ID + "/generate/"

	w := ts.do(t, http.MethodPost, path+"storyboard", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "script is empty")

	s.SetScript("INT. WORKSHOP - NIGHT")
	s.SetDurationMinutes("1")
	w = ts.do(t, http.MethodPost, path+"storyboard", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "task-"+models.TaskTypeStoryboard)

	require.Len(t, ts.dispatcher.tasks, 1)
	task := ts.dispatcher.tasks[0]
	assert.Equal(t, s.ID, task.ProjectId)
	assert.Equal(t, s.Epoch(), task.Parameters.Epoch)

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, path+"idea", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, path+"characters", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, path+"video", "").Code)
}

func TestGenerateImagesNeedReference(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)
	ch := s.AddCharacter()
	s.SetScenes([]models.Scene{{SceneID: 1, Prompt: "a"}})

	body := `{"character_id":"` + ch.ID + `"}`
	w := ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/scenes/1/image", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Selected character does not have a reference image.")

	w = ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/images", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "character_id is required")

	w = ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/characters/"+ch.ID+"/image", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, ts.dispatcher.tasks, 1)
	assert.Equal(t, ch.ID, ts.dispatcher.tasks[0].Parameters.CharacterID)

	w = ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/characters/missing/image", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExports(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)
	s.SetStoryIdea("Paper Boats\nTwo kids race boats.")

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/api/projects/"+s.ID+"/export/prompts", "").Code)

	s.SetScenes([]models.Scene{
		{SceneID: 2, Prompt: "Scene 2 – The race.", ImageUrl: "data:image/png;base64,aW1n"},
		{SceneID: 1, Prompt: "Scene 1 – The boats."},
	})

	w := ts.do(t, http.MethodGet, "/v1/api/projects/"+s.ID+"/export/prompts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1. The boats.\n\n2. The race.", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Paper_Boats_prompts.txt")

	w = ts.do(t, http.MethodGet, "/v1/api/projects/"+s.ID+"/export/images", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Paper_Boats_images.zip")
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "scene_002.png", zr.File[0].Name)
}

func TestWithoutDatabase(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)

	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodPost, "/v1/api/projects/"+s.ID+"/save", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/v1/api/tasks/t1", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/v1/api/tasks/t1", "").Code)
}

func TestDeleteProject(t *testing.T) {
	ts := newTestServer(t)
	s := ts.create(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/v1/api/projects/"+s.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/api/projects/"+s.ID, "").Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
