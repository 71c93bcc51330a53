package views

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GrainArc/MapEditor/interaction"
	"github.com/GrainArc/MapEditor/models"
	"github.com/GrainArc/MapEditor/services"
)

// MapController 地图编辑接口，坐标均为工程投影坐标
type MapController struct {
	Layers      *services.LayerService
	Features    *services.FeatureService
	Interaction *interaction.Controller
	Notifier    *services.Notifier
	Recorder    *services.Recorder
}

// fail 按错误类别返回状态码：校验 400，不存在 404，状态不对 409，后端失败 502
func fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, models.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, models.ErrBackend):
		status, code = http.StatusBadGateway, "backend"
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"code": code, "message": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": err.Error()})
}
