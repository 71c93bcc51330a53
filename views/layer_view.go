package views

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (mc *MapController) ListLayers(c *gin.Context) {
	c.JSON(http.StatusOK, mc.Layers.List())
}

// ImportLayer 上传 KML/KMZ 文件，生成新的文档图层
func (mc *MapController) ImportLayer(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	dir, err := os.MkdirTemp("", "mapedit-upload-*")
	if err != nil {
		fail(c, err)
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		fail(c, err)
		return
	}
	layer, err := mc.Layers.Import(c.Request.Context(), path)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, layer)
}

func (mc *MapController) DeleteLayer(c *gin.Context) {
	if err := mc.Layers.Delete(c.Request.Context(), c.Param("layer")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok"})
}

func (mc *MapController) ClearLayer(c *gin.Context) {
	if err := mc.Layers.Clear(c.Request.Context(), c.Param("layer")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok"})
}

// ExportLayer 下载图层的 KML 文档
func (mc *MapController) ExportLayer(c *gin.Context) {
	id := c.Param("layer")
	layer, err := mc.Layers.Project.Layer(id)
	if err != nil {
		fail(c, err)
		return
	}
	dir, err := os.MkdirTemp("", "mapedit-export-*")
	if err != nil {
		fail(c, err)
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "export.kml")
	if err := mc.Layers.Export(c.Request.Context(), id, path); err != nil {
		fail(c, err)
		return
	}
	c.FileAttachment(path, layer.Label+".kml")
}

func (mc *MapController) SyncLayer(c *gin.Context) {
	if err := mc.Features.Sync(c.Request.Context(), c.Param("layer")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok"})
}

func (mc *MapController) ReloadLayer(c *gin.Context) {
	n, err := mc.Features.Reload(c.Request.Context(), c.Param("layer"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "count": n})
}

type layerDisplay struct {
	Visible *bool `json:"visible"`
	ZIndex  *int  `json:"zIndex"`
}

// SetLayerDisplay 修改图层可见性和叠放次序
func (mc *MapController) SetLayerDisplay(c *gin.Context) {
	var req layerDisplay
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("layer")
	if req.Visible != nil {
		if err := mc.Layers.SetVisible(id, *req.Visible); err != nil {
			fail(c, err)
			return
		}
	}
	if req.ZIndex != nil {
		if err := mc.Layers.SetZIndex(id, *req.ZIndex); err != nil {
			fail(c, err)
			return
		}
	}
	layer, err := mc.Layers.Project.Layer(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, layer)
}

// LayerGeoJSON 图层全部要素，经纬度坐标
func (mc *MapController) LayerGeoJSON(c *gin.Context) {
	fc, err := mc.Layers.GeoJSON(c.Param("layer"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fc)
}

// LayerRecords 图层的编辑留痕，最新的在前
func (mc *MapController) LayerRecords(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := mc.Recorder.Records(c.Request.Context(), c.Param("layer"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}
