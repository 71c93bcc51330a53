package routers

import (
	"github.com/gin-gonic/gin"

	"github.com/GrainArc/MapEditor/views"
)

func MapRouters(r *gin.Engine, mc *views.MapController) {
	mapRouter := r.Group("/map")
	{
		mapRouter.GET("/events", mc.Events)

		mapRouter.GET("/layers", mc.ListLayers)
		mapRouter.POST("/layers/import", mc.ImportLayer)
		mapRouter.DELETE("/layers/:layer", mc.DeleteLayer)
		mapRouter.POST("/layers/:layer/clear", mc.ClearLayer)
		mapRouter.GET("/layers/:layer/export", mc.ExportLayer)
		mapRouter.POST("/layers/:layer/sync", mc.SyncLayer)
		mapRouter.POST("/layers/:layer/reload", mc.ReloadLayer)
		mapRouter.PATCH("/layers/:layer", mc.SetLayerDisplay)
		mapRouter.GET("/layers/:layer/geojson", mc.LayerGeoJSON)
		mapRouter.GET("/layers/:layer/records", mc.LayerRecords)

		mapRouter.POST("/layers/:layer/features/query", mc.QueryFeatures)
		mapRouter.POST("/layers/:layer/features", mc.CreateFeature)
		mapRouter.GET("/layers/:layer/features/:id", mc.ReadFeature)
		mapRouter.PATCH("/layers/:layer/features/:id", mc.PatchAttributes)
		mapRouter.PUT("/layers/:layer/features/:id/geometry", mc.ReplaceGeometry)
		mapRouter.DELETE("/layers/:layer/features/:id", mc.DeleteFeature)
	}
	editRouter := r.Group("/map/interaction")
	{
		editRouter.GET("/session", mc.GetSession)
		editRouter.POST("/mode", mc.ChangeMode)
		editRouter.POST("/draw", mc.StartDrawing)
		editRouter.POST("/draw/vertex", mc.AddVertex)
		editRouter.POST("/draw/undo", mc.UndoVertex)
		editRouter.POST("/draw/close", mc.CloseShape)
		editRouter.POST("/edit", mc.StartEdit)
		editRouter.POST("/edit/vertex", mc.EditVertex)
		editRouter.POST("/commit", mc.Commit)
		editRouter.POST("/cancel", mc.Cancel)
		editRouter.POST("/click", mc.Click)
	}
}
