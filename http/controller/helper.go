package controller

import (
	"errors"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tnqbao/gau-repo-evaluator/apperror"
	"github.com/tnqbao/gau-repo-evaluator/service"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

func (ctrl *Controller) parseJobID(c *gin.Context, tag string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ctrl.Logger.WarningWithContextf(c.Request.Context(), "[%s] Invalid job id %q", tag, c.Param("id"))
		utils.JSON400(c, "Invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps the error taxonomy onto HTTP statuses.
func (ctrl *Controller) respondError(c *gin.Context, tag string, err error) {
	ctx := c.Request.Context()

	switch {
	case errors.Is(err, service.ErrNotRetryable), errors.Is(err, service.ErrNoResult):
		utils.JSON409(c, err.Error())
		return
	}

	var input *apperror.InputError
	var transient *apperror.TransientError
	var malformed *apperror.MalformedResponseError
	switch {
	case errors.As(err, &input):
		ctrl.Logger.WarningWithContextf(ctx, "[%s] Rejected: %v", tag, err)
		switch input.Reason {
		case apperror.ReasonNotFound:
			utils.JSON404(c, input.Error())
		case apperror.ReasonInaccessible:
			utils.JSON403(c, input.Error())
		case apperror.ReasonTooLarge, apperror.ReasonTooManyItems:
			utils.JSON422(c, input.Error())
		default:
			utils.JSON400(c, input.Error())
		}
	case errors.As(err, &transient):
		ctrl.Logger.WarningWithContextf(ctx, "[%s] Upstream unavailable: %v", tag, err)
		if transient.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(transient.RetryAfter.Seconds()))))
		}
		utils.JSON503(c, "Upstream service unavailable, retry later")
	case errors.As(err, &malformed):
		ctrl.Logger.ErrorWithContextf(ctx, err, "[%s] Malformed upstream response: %v", tag, err)
		utils.JSON502(c, "Upstream service returned an invalid response")
	default:
		ctrl.Logger.ErrorWithContextf(ctx, err, "[%s] Internal error: %v", tag, err)
		utils.JSON500(c, "Internal server error")
	}
}
