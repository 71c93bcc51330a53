package views

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/models"
	"github.com/GrainArc/MapEditor/store"
)

type featureBody struct {
	Geometry   *geom.Geometry         `json:"geometry" binding:"required"`
	Properties map[string]interface{} `json:"properties"`
}

type geometryBody struct {
	Geometry *geom.Geometry `json:"geometry" binding:"required"`
}

func featureID(c *gin.Context) models.FeatureID {
	return models.FeatureID(c.Param("id"))
}

// QueryFeatures 分页查询，条件见 store.Query
func (mc *MapController) QueryFeatures(c *gin.Context) {
	var q store.Query
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&q); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := mc.Features.Query(c.Request.Context(), c.Param("layer"), q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (mc *MapController) ReadFeature(c *gin.Context) {
	props, err := mc.Features.Read(c.Request.Context(), c.Param("layer"), featureID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, props)
}

func (mc *MapController) CreateFeature(c *gin.Context) {
	var req featureBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	f, err := mc.Features.CreateFeature(c.Request.Context(), c.Param("layer"), *req.Geometry, req.Properties)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (mc *MapController) PatchAttributes(c *gin.Context) {
	var patch map[string]interface{}
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	f, err := mc.Features.UpdateAttributes(c.Request.Context(), c.Param("layer"), featureID(c), patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (mc *MapController) ReplaceGeometry(c *gin.Context) {
	var req geometryBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	f, err := mc.Features.UpdateGeometry(c.Request.Context(), c.Param("layer"), featureID(c), *req.Geometry)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (mc *MapController) DeleteFeature(c *gin.Context) {
	if err := mc.Features.DeleteFeature(c.Request.Context(), c.Param("layer"), featureID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok"})
}
