package controller

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-repo-evaluator/http/controller/dto"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

func (ctrl *Controller) GetArtifact(c *gin.Context) {
	artifact, err := ctrl.Evaluations.Artifact(c.Request.Context(), c.Param("owner"), c.Param("name"))
	if err != nil {
		ctrl.respondError(c, "Artifact", err)
		return
	}
	utils.JSON200(c, dto.NewArtifactResponse(artifact, true))
}

func (ctrl *Controller) ListArtifactHistory(c *gin.Context) {
	owner, name := c.Param("owner"), c.Param("name")
	artifacts, err := ctrl.Evaluations.History(c.Request.Context(), owner, name)
	if err != nil {
		ctrl.respondError(c, "Artifact", err)
		return
	}

	resp := dto.ArtifactHistoryResponseDTO{Owner: owner, Name: name, Versions: make([]dto.ArtifactResponseDTO, 0, len(artifacts))}
	for i := range artifacts {
		resp.Versions = append(resp.Versions, dto.NewArtifactResponse(&artifacts[i], false))
	}
	utils.JSON200(c, resp)
}

func (ctrl *Controller) InvalidateArtifactCache(c *gin.Context) {
	ctx := c.Request.Context()
	owner, name, version := c.Param("owner"), c.Param("name"), c.Param("version")

	if err := ctrl.Evaluations.Invalidate(ctx, owner, name, version); err != nil {
		ctrl.respondError(c, "Artifact", err)
		return
	}
	ctrl.Logger.InfoWithContextf(ctx, "[Artifact] Hot cache entry for %s/%s@%s dropped by %s", owner, name, version, c.GetString("user_id"))
	utils.JSON200(c, gin.H{"message": "Cache entry invalidated"})
}
