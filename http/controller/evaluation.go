package controller

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-repo-evaluator/http/controller/dto"
	"github.com/tnqbao/gau-repo-evaluator/service"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

func (ctrl *Controller) SubmitEvaluation(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitEvaluationRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		ctrl.Logger.WarningWithContextf(ctx, "[Evaluation] Failed to bind JSON: %v", err)
		utils.JSON400(c, "Invalid request payload")
		return
	}

	ctrl.Logger.InfoWithContextf(ctx, "[Evaluation] Submit from %s for owner %s", c.GetString("user_id"), req.Owner)

	job, err := ctrl.Evaluations.Submit(ctx, service.SubmitRequest{
		Owner:        req.Owner,
		Name:         req.Name,
		Repositories: req.Repositories,
	})
	if err != nil {
		ctrl.respondError(c, "Evaluation", err)
		return
	}
	utils.JSON202(c, dto.NewJobResponse(job))
}

func (ctrl *Controller) GetEvaluation(c *gin.Context) {
	id, ok := ctrl.parseJobID(c, "Evaluation")
	if !ok {
		return
	}
	job, err := ctrl.Evaluations.Job(c.Request.Context(), id)
	if err != nil {
		ctrl.respondError(c, "Evaluation", err)
		return
	}
	utils.JSON200(c, dto.NewJobResponse(job))
}

func (ctrl *Controller) RetryEvaluation(c *gin.Context) {
	id, ok := ctrl.parseJobID(c, "Evaluation")
	if !ok {
		return
	}
	job, err := ctrl.Evaluations.Retry(c.Request.Context(), id)
	if err != nil {
		ctrl.respondError(c, "Evaluation", err)
		return
	}
	ctrl.Logger.InfoWithContextf(c.Request.Context(), "[Evaluation] Job %s retried as %s", id, job.ID)
	utils.JSON202(c, dto.NewJobResponse(job))
}

func (ctrl *Controller) GetEvaluationResult(c *gin.Context) {
	id, ok := ctrl.parseJobID(c, "Evaluation")
	if !ok {
		return
	}
	artifact, err := ctrl.Evaluations.Result(c.Request.Context(), id)
	if err != nil {
		ctrl.respondError(c, "Evaluation", err)
		return
	}
	utils.JSON200(c, dto.NewArtifactResponse(artifact, true))
}
