package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-repo-evaluator/http/controller"
	middlewares "github.com/tnqbao/gau-repo-evaluator/http/middleware"
	"github.com/tnqbao/gau-repo-evaluator/utils"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}
	r.Use(middles.RequestIDMiddleware, middles.CORSMiddleware)

	r.GET("/health", func(c *gin.Context) {
		utils.JSON200(c, gin.H{"status": "ok"})
	})

	apiRoutes := r.Group("/api/v1")
	{
		apiRoutes.Use(middles.AuthMiddleware)

		evaluationRoutes := apiRoutes.Group("/evaluations")
		{
			evaluationRoutes.POST("", ctrl.SubmitEvaluation)
			evaluationRoutes.GET("/:id", ctrl.GetEvaluation)
			evaluationRoutes.POST("/:id/retry", ctrl.RetryEvaluation)
			evaluationRoutes.GET("/:id/result", ctrl.GetEvaluationResult)
		}

		artifactRoutes := apiRoutes.Group("/artifacts")
		{
			artifactRoutes.GET("/:owner/:name", ctrl.GetArtifact)
			artifactRoutes.GET("/:owner/:name/history", ctrl.ListArtifactHistory)
			artifactRoutes.DELETE("/:owner/:name/:version/cache", middles.AdminMiddleware, ctrl.InvalidateArtifactCache)
		}
	}
	return r
}
