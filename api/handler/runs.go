package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/propintel/models"
	"github.com/use-agent/propintel/service"
)

// PostRun returns a handler for POST /api/v1/admin/runs.
//
// The run starts in the background and the response is 202 with its ID,
// unless the body sets "wait", in which case the request blocks and gets
// the summary.
func PostRun(runner *service.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RunRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, models.NewRunError(models.ErrCodeInvalidInput, err.Error(), err))
				return
			}
		}
		params := runner.ParamsFor(req)

		if req.Wait {
			sum, err := runner.RunSync(c.Request.Context(), params)
			if err != nil && sum == nil {
				respondError(c, err)
				return
			}
			resp := models.RunResponse{
				Success: err == nil,
				RunID:   sum.RunID,
				State:   service.StateFinished,
				Summary: sum,
			}
			if err != nil {
				resp.State = service.StateFailed
				resp.Error = detailOf(err)
			}
			c.JSON(http.StatusOK, resp)
			return
		}

		id, err := runner.Start(params)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, models.RunResponse{
			Success: true,
			RunID:   id,
			State:   service.StateRunning,
		})
	}
}

// GetRun returns a handler for GET /api/v1/admin/runs/:id.
func GetRun(runner *service.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := runner.Get(c.Param("id"))
		if !ok {
			respondError(c, models.NewRunError(models.ErrCodeRunNotFound, "run not found or expired", nil))
			return
		}
		resp := models.RunResponse{
			Success: run.Err == nil,
			RunID:   run.ID,
			State:   run.State,
			Summary: run.Summary,
		}
		if run.Err != nil {
			resp.Error = detailOf(run.Err)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// respondError maps error codes to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var re *models.RunError
	if errors.As(err, &re) {
		switch re.Code {
		case models.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case models.ErrCodeRunInProgress:
			status = http.StatusConflict
		case models.ErrCodeRunNotFound:
			status = http.StatusNotFound
		case models.ErrCodeSink:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, models.RunResponse{Success: false, Error: detailOf(err)})
}

func detailOf(err error) *models.ErrorDetail {
	var re *models.RunError
	if errors.As(err, &re) {
		return re.ToDetail()
	}
	return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
}
