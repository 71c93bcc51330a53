package views

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/interaction"
	"github.com/GrainArc/MapEditor/models"
)

// point 请求中的坐标，z 可省略
type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p point) coord() geom.Coord { return geom.Coord{p.X, p.Y, p.Z} }

func reply(c *gin.Context, s interaction.Snapshot, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (mc *MapController) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, mc.Interaction.Session())
}

func (mc *MapController) ChangeMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := interaction.ParseMode(req.Mode)
	if err != nil {
		fail(c, err)
		return
	}
	s, err := mc.Interaction.ChangeMode(c.Request.Context(), m)
	reply(c, s, err)
}

func (mc *MapController) StartDrawing(c *gin.Context) {
	var req struct {
		Layer string `json:"layer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := mc.Interaction.StartDrawing(c.Request.Context(), req.Layer)
	reply(c, s, err)
}

// AddVertex 绘制时放置一个顶点
func (mc *MapController) AddVertex(c *gin.Context) {
	var p point
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	s, err := mc.Interaction.Pointer(p.coord())
	reply(c, s, err)
}

func (mc *MapController) UndoVertex(c *gin.Context) {
	removed, s, err := mc.Interaction.Undo()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "session": s})
}

func (mc *MapController) CloseShape(c *gin.Context) {
	s, err := mc.Interaction.CloseShape()
	reply(c, s, err)
}

func (mc *MapController) StartEdit(c *gin.Context) {
	var req struct {
		Layer string `json:"layer" binding:"required"`
		ID    string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := mc.Interaction.StartGeometryEdit(c.Request.Context(), req.Layer, models.FeatureID(req.ID))
	reply(c, s, err)
}

type vertexEdit struct {
	Op    string  `json:"op" binding:"required,oneof=move insert remove translate"`
	Part  int     `json:"part"`
	Ring  int     `json:"ring"`
	Index int     `json:"index"`
	At    point   `json:"at"`
	DX    float64 `json:"dx"`
	DY    float64 `json:"dy"`
}

// EditVertex 编辑会话中的顶点操作：移动、插入、删除、整体平移
func (mc *MapController) EditVertex(c *gin.Context) {
	var req vertexEdit
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var (
		s   interaction.Snapshot
		err error
	)
	switch req.Op {
	case "move":
		s, err = mc.Interaction.MoveVertex(req.Part, req.Ring, req.Index, req.At.coord())
	case "insert":
		s, err = mc.Interaction.InsertVertex(req.Part, req.Ring, req.Index, req.At.coord())
	case "remove":
		s, err = mc.Interaction.RemoveVertex(req.Part, req.Ring, req.Index)
	case "translate":
		s, err = mc.Interaction.Translate(req.DX, req.DY)
	}
	reply(c, s, err)
}

// Commit 提交当前会话，属性可选
func (mc *MapController) Commit(c *gin.Context) {
	var req struct {
		Properties map[string]interface{} `json:"properties"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	f, err := mc.Interaction.Commit(c.Request.Context(), req.Properties)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (mc *MapController) Cancel(c *gin.Context) {
	s, err := mc.Interaction.Cancel()
	reply(c, s, err)
}

// Click 查询模式下的点击查询
func (mc *MapController) Click(c *gin.Context) {
	var p point
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	res, err := mc.Interaction.Click(p.coord())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
