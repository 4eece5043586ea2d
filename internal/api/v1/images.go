package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// maxObjectsPerImage bounds a single label replacement.
const maxObjectsPerImage = 1000

// ObjectRequest is one labeled box in pixel coordinates.
type ObjectRequest struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
}

// ReplaceObjectsRequest is the body of PUT /api/v1/images/:id/objects.
type ReplaceObjectsRequest struct {
	Objects []ObjectRequest `json:"objects"`
}

// ReplaceObjectsResponse reports the recomputed image status.
type ReplaceObjectsResponse struct {
	Success bool   `json:"success"`
	ImageID uint   `json:"image_id"`
	Objects int    `json:"objects"`
	Status  string `json:"status,omitempty"`
}

func (r ObjectRequest) validate() error {
	switch {
	case r.Class == "":
		return errors.NewStd("class is required")
	case r.Confidence < 0 || r.Confidence > 1:
		return fmt.Errorf("confidence %v out of [0,1]", r.Confidence)
	case r.BBox[2] < r.BBox[0] || r.BBox[3] < r.BBox[1]:
		return fmt.Errorf("bbox %v is not x1,y1,x2,y2", r.BBox)
	}
	for _, v := range r.BBox {
		if v < 0 {
			return fmt.Errorf("bbox %v has negative coordinates", r.BBox)
		}
	}
	return nil
}

// ReplaceImageObjects handles PUT /api/v1/images/:id/objects. The image's
// objects are replaced and its status recomputed in one transaction.
func (c *Controller) ReplaceImageObjects(ctx echo.Context) error {
	if c.images == nil {
		return c.HandleError(ctx, nil, "image store unavailable", http.StatusServiceUnavailable)
	}

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return c.HandleError(ctx, err, "invalid image id", http.StatusBadRequest)
	}

	var req ReplaceObjectsRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if len(req.Objects) > maxObjectsPerImage {
		return c.HandleError(ctx, nil, fmt.Sprintf("at most %d objects per image", maxObjectsPerImage), http.StatusBadRequest)
	}

	objects := make([]entities.DetectionObject, 0, len(req.Objects))
	for i, o := range req.Objects {
		if err := o.validate(); err != nil {
			return c.HandleError(ctx, err, fmt.Sprintf("invalid object %d", i), http.StatusBadRequest)
		}
		objects = append(objects, entities.DetectionObject{
			Name:       o.Class,
			Confidence: o.Confidence,
			X1:         o.BBox[0],
			Y1:         o.BBox[1],
			X2:         o.BBox[2],
			Y2:         o.BBox[3],
		})
	}

	image, err := c.images.ReplaceObjects(ctx.Request().Context(), uint(id), objects)
	switch {
	case errors.Is(err, repository.ErrImageNotFound):
		return c.HandleError(ctx, err, "image not found", http.StatusNotFound)
	case err != nil:
		return c.HandleError(ctx, err, "failed to replace objects", http.StatusInternalServerError)
	}

	resp := ReplaceObjectsResponse{Success: true, ImageID: image.ID, Objects: len(objects)}
	if len(objects) > 0 {
		titles := make([]string, 0, len(objects))
		for _, o := range objects {
			titles = append(titles, entities.ClassifyConfidence(o.Confidence))
		}
		resp.Status = entities.WorstStatus(titles...)
	}

	c.logger.Info("image objects replaced",
		logger.Uint64("image_id", id),
		logger.Int("objects", len(objects)))
	return ctx.JSON(http.StatusOK, resp)
}
