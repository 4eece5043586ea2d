package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/xgstriker/bbd-server/internal/api/middleware"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/training"
)

type fakeCoordinator struct {
	mu           sync.Mutex
	started      []string
	startErr     map[string]error
	history      []*entities.TrainingRun
	historyCalls int
	status       *training.StatusRegistry
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{startErr: map[string]error{}, status: training.NewStatusRegistry()}
}

func (f *fakeCoordinator) Start(_ context.Context, modelType string) (*training.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[modelType]; err != nil {
		return nil, err
	}
	f.started = append(f.started, modelType)
	return &training.Run{ModelType: modelType, Name: strings.ToLower(modelType) + "_20240501_123000", StartedAt: time.Now()}, nil
}

func (f *fakeCoordinator) Status() *training.StatusRegistry { return f.status }

func (f *fakeCoordinator) History(_ context.Context, modelType string, limit int) ([]*entities.TrainingRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[modelType]; err != nil {
		return nil, err
	}
	f.historyCalls++
	return f.history[:min(limit, len(f.history))], nil
}

type fakeImages struct {
	objects map[uint][]entities.DetectionObject
}

func (f *fakeImages) ReplaceObjects(_ context.Context, imageID uint, objects []entities.DetectionObject) (*entities.Image, error) {
	if _, ok := f.objects[imageID]; !ok {
		return nil, repository.ErrImageNotFound
	}
	f.objects[imageID] = objects
	return &entities.Image{ID: imageID}, nil
}

type testEnv struct {
	echo        *echo.Echo
	coordinator *fakeCoordinator
	images      *fakeImages
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	e := echo.New()
	e.Use(mw.NewRequestID())
	env := &testEnv{
		echo:        e,
		coordinator: newFakeCoordinator(),
		images:      &fakeImages{objects: map[uint][]entities.DetectionObject{7: nil}},
	}
	New(e, env.coordinator, env.images, opts...)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestStartTraining(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/training/Object", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[StartResponse](t, rec)
	assert.Equal(t, "Object", resp.Type)
	assert.Equal(t, "object_20240501_123000", resp.Run)
	assert.True(t, resp.Running)
	assert.Equal(t, "Object training started", resp.Message)
	assert.Equal(t, []string{"Object"}, env.coordinator.started)
}

func TestStartTrainingErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown type", training.ErrConfiguration, http.StatusNotFound},
		{"already running", training.ErrAlreadyRunning, http.StatusConflict},
		{"internal", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			env.coordinator.startErr["Object"] = tt.err

			rec := env.do(t, http.MethodPost, "/api/v1/training/Object", "")

			assert.Equal(t, tt.code, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.CorrelationID)
			assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.CorrelationID)
			assert.Empty(t, env.coordinator.started)
		})
	}
}

func TestLegacyTriggerRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/train-object", "").Code)
	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/train-money", "").Code)
	assert.Equal(t, []string{"Object", "Money"}, env.coordinator.started)
}

func TestGetTrainingStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/training/Object/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[training.Status](t, rec)
	assert.False(t, status.Running)
	assert.Equal(t, training.MessageIdle, status.Message)
	assert.Contains(t, rec.Body.String(), `"running":false`)
}

func TestListRunsIsCached(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithHistoryTTL(time.Minute))
	old, updated := 0.8, 0.82
	finished := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	env.coordinator.history = []*entities.TrainingRun{{
		ModelType:  "Object",
		RunName:    "object_20240501_123000",
		Outcome:    entities.RunOutcomePromoted,
		Promoted:   true,
		OldMetric:  &old,
		NewMetric:  &updated,
		Images:     4,
		Message:    "promoted",
		StartedAt:  finished.Add(-time.Hour),
		FinishedAt: &finished,
	}}

	rec := env.do(t, http.MethodGet, "/api/v1/training/Object/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]RunResponse](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "promoted", runs[0].Outcome)
	assert.InDelta(t, 0.82, *runs[0].NewMetric, 1e-9)

	env.do(t, http.MethodGet, "/api/v1/training/Object/runs", "")
	assert.Equal(t, 1, env.coordinator.historyCalls)

	// A new run invalidates the cached history of its type.
	env.do(t, http.MethodPost, "/api/v1/training/Object", "")
	env.do(t, http.MethodGet, "/api/v1/training/Object/runs", "")
	assert.Equal(t, 2, env.coordinator.historyCalls)
}

func TestListRunsValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/training/Object/runs?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/training/Object/runs?limit=abc", "").Code)

	env.coordinator.startErr["Bird"] = training.ErrConfiguration
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/training/Bird/runs", "").Code)
}

func TestReplaceImageObjects(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body := `{"objects":[
		{"class":"cat","confidence":0.95,"bbox":[10,10,30,20]},
		{"class":"dog","confidence":0.7,"bbox":[0,0,5,5]}
	]}`
	rec := env.do(t, http.MethodPut, "/api/v1/images/7/objects", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ReplaceObjectsResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Objects)
	assert.Equal(t, entities.StatusMiddle, resp.Status)

	stored := env.images.objects[7]
	require.Len(t, stored, 2)
	assert.Equal(t, "cat", stored[0].Name)
	assert.InDelta(t, 30.0, stored[0].X2, 1e-9)
}

func TestReplaceImageObjectsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		body string
		code int
	}{
		{"bad id", "/api/v1/images/abc/objects", `{"objects":[]}`, http.StatusBadRequest},
		{"missing image", "/api/v1/images/8/objects", `{"objects":[]}`, http.StatusNotFound},
		{"malformed body", "/api/v1/images/7/objects", `{"objects":`, http.StatusBadRequest},
		{"missing class", "/api/v1/images/7/objects", `{"objects":[{"confidence":0.5,"bbox":[0,0,1,1]}]}`, http.StatusBadRequest},
		{"inverted box", "/api/v1/images/7/objects", `{"objects":[{"class":"cat","confidence":0.5,"bbox":[5,5,1,1]}]}`, http.StatusBadRequest},
		{"confidence above one", "/api/v1/images/7/objects", `{"objects":[{"class":"cat","confidence":1.5,"bbox":[0,0,1,1]}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestTriggerMiddlewareAppliesToTriggersOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithTriggerMiddleware(mw.NewRateLimiter(mw.RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             1,
	})))

	assert.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/v1/training/Object", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/api/v1/training/Object", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/train-object", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/training/Object/status", "").Code)
}
