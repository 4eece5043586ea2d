package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/training"
)

// StartResponse is returned when a run was accepted.
type StartResponse struct {
	Message   string          `json:"message"`
	Type      string          `json:"type"`
	Run       string          `json:"run"`
	Running   bool            `json:"running"`
	StartedAt time.Time       `json:"started_at"`
	Status    training.Status `json:"status"`
}

// RunResponse is one entry of the run history.
type RunResponse struct {
	Run        string     `json:"run"`
	Type       string     `json:"type"`
	Outcome    string     `json:"outcome"`
	Promoted   bool       `json:"promoted"`
	OldMetric  *float64   `json:"old_metric,omitempty"`
	NewMetric  *float64   `json:"new_metric,omitempty"`
	Images     int        `json:"images"`
	BackupPath string     `json:"backup_path,omitempty"`
	ResultPath string     `json:"result_path,omitempty"`
	Message    string     `json:"message"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StartTraining handles POST /api/v1/training/:type. The run continues in
// the background after the response is sent.
func (c *Controller) StartTraining(ctx echo.Context) error {
	return c.startTraining(ctx, ctx.Param("type"))
}

func (c *Controller) legacyTrigger(modelType string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		return c.startTraining(ctx, modelType)
	}
}

func (c *Controller) startTraining(ctx echo.Context, modelType string) error {
	run, err := c.coordinator.Start(ctx.Request().Context(), modelType)
	switch {
	case errors.Is(err, training.ErrConfiguration):
		return c.HandleError(ctx, err, "unknown model type", http.StatusNotFound)
	case errors.Is(err, training.ErrAlreadyRunning):
		return c.HandleError(ctx, err, "training already in progress", http.StatusConflict)
	case err != nil:
		return c.HandleError(ctx, err, "failed to start training", http.StatusInternalServerError)
	}

	c.invalidateHistory(modelType)
	c.logger.Info("training triggered",
		logger.String("model_type", modelType),
		logger.String("run", run.Name),
		logger.String("ip", ctx.RealIP()))

	return ctx.JSON(http.StatusAccepted, StartResponse{
		Message:   modelType + " training started",
		Type:      modelType,
		Run:       run.Name,
		Running:   true,
		StartedAt: run.StartedAt,
		Status:    c.coordinator.Status().Get(modelType),
	})
}

// GetTrainingStatus handles GET /api/v1/training/:type/status.
func (c *Controller) GetTrainingStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.coordinator.Status().Get(ctx.Param("type")))
}

// ListTrainingStatus handles GET /api/v1/training/status.
func (c *Controller) ListTrainingStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.coordinator.Status().All())
}

// ListRuns handles GET /api/v1/training/:type/runs?limit=N.
func (c *Controller) ListRuns(ctx echo.Context) error {
	modelType := ctx.Param("type")

	limit := DefaultHistoryLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.HandleError(ctx, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		limit = min(n, MaxHistoryLimit)
	}

	key := c.historyKey(modelType, limit)
	if cached, ok := c.historyCache.Get(key); ok {
		return ctx.JSON(http.StatusOK, cached)
	}

	runs, err := c.coordinator.History(ctx.Request().Context(), modelType, limit)
	switch {
	case errors.Is(err, training.ErrConfiguration):
		return c.HandleError(ctx, err, "unknown model type", http.StatusNotFound)
	case err != nil:
		return c.HandleError(ctx, err, "failed to load run history", http.StatusInternalServerError)
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		resp = append(resp, toRunResponse(r))
	}
	c.historyCache.SetDefault(key, resp)
	return ctx.JSON(http.StatusOK, resp)
}

func toRunResponse(r *entities.TrainingRun) RunResponse {
	return RunResponse{
		Run:        r.RunName,
		Type:       r.ModelType,
		Outcome:    string(r.Outcome),
		Promoted:   r.Promoted,
		OldMetric:  r.OldMetric,
		NewMetric:  r.NewMetric,
		Images:     r.Images,
		BackupPath: r.BackupPath,
		ResultPath: r.ResultPath,
		Message:    r.Message,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
