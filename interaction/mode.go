package interaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
)

type Mode string

const (
	ModePan          Mode = "pan"
	ModeInfo         Mode = "info"
	ModeDraw         Mode = "draw"
	ModeGeometryEdit Mode = "geometry-edit"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePan, ModeInfo, ModeDraw, ModeGeometryEdit:
		return m, nil
	}
	return "", models.NewValidationError("mode", "unknown mode %q", s)
}

type SessionKind string

const (
	SessionNone      SessionKind = "none"
	SessionDrawing   SessionKind = "drawing"
	SessionModifying SessionKind = "modifying"
)

// DefaultTolerance 点击查询容差，单位为投影坐标米
const DefaultTolerance = 5.0

// FeatureStore 提交会话时使用的持久化接口，由 services.FeatureService 实现
type FeatureStore interface {
	CreateFeature(ctx context.Context, layerID string, g geom.Geometry, attrs map[string]interface{}) (*models.Feature, error)
	UpdateFeature(ctx context.Context, layerID string, id models.FeatureID, patch map[string]interface{}, g *geom.Geometry) (*models.Feature, error)
}

// Hooks 状态变化回调，在控制器锁外调用。nil 表示不关心。
type Hooks struct {
	ModeChanged   func(from, to Mode)
	SessionOpened func(s Snapshot)
	SessionClosed func(s Snapshot, status string)
	Info          func(r InfoResult)
}

// Snapshot 当前交互会话状态及界面按钮是否可用
type Snapshot struct {
	ID         string           `json:"id,omitempty"`
	Mode       Mode             `json:"mode"`
	Kind       SessionKind      `json:"kind"`
	LayerID    string           `json:"layerId,omitempty"`
	FeatureID  models.FeatureID `json:"featureId,omitempty"`
	Draft      bool             `json:"draft"`
	Vertices   int              `json:"vertices"`
	Geometry   *geom.Geometry   `json:"geometry,omitempty"`
	CanUndo    bool             `json:"canUndo"`
	CanCancel  bool             `json:"canCancel"`
	CanCommit  bool             `json:"canCommit"`
	Committing bool             `json:"committing"`
}

// Controller 全局唯一的交互模式寄存器。同一时刻最多一个绘制或编辑会话；
// 离开绘制/编辑模式时先销毁会话；提交进行中拒绝取消和开始新会话。
type Controller struct {
	Tolerance float64

	mu         sync.Mutex
	project    *models.ProjectState
	store      FeatureStore
	hooks      Hooks
	mode       Mode
	drawer     Drawer
	modifier   *Modifier
	active     *SessionKey
	sessionID  string
	committing bool
	pending    []func()
}

func NewController(project *models.ProjectState, store FeatureStore, hooks Hooks) *Controller {
	return &Controller{
		Tolerance: DefaultTolerance,
		project:   project,
		store:     store,
		hooks:     hooks,
		mode:      ModePan,
		modifier:  NewModifier(),
	}
}

// do 持锁执行 fn，然后在锁外触发回调
func (c *Controller) do(fn func() error) error {
	c.mu.Lock()
	err := fn()
	events := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, e := range events {
		e()
	}
	return err
}

func (c *Controller) emitMode(from, to Mode) {
	if c.hooks.ModeChanged != nil {
		fn := c.hooks.ModeChanged
		c.pending = append(c.pending, func() { fn(from, to) })
	}
}

func (c *Controller) emitOpened() {
	if c.hooks.SessionOpened != nil {
		fn, s := c.hooks.SessionOpened, c.snapshot()
		c.pending = append(c.pending, func() { fn(s) })
	}
}

func (c *Controller) emitClosed(s Snapshot, status string) {
	if c.hooks.SessionClosed != nil {
		fn := c.hooks.SessionClosed
		c.pending = append(c.pending, func() { fn(s, status) })
	}
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Session() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{ID: c.sessionID, Mode: c.mode, Kind: SessionNone, Committing: c.committing}
	if c.active != nil {
		sess, ok := c.modifier.Session(*c.active)
		if ok {
			g := sess.Geometry()
			s.Kind = SessionModifying
			s.LayerID = sess.Key.LayerID
			s.FeatureID = sess.Key.FeatureID
			s.Draft = sess.Draft
			s.Vertices = g.VertexCount()
			s.Geometry = &g
			s.CanCancel = !c.committing
			s.CanCommit = !c.committing
		}
		return s
	}
	if c.drawer.State() == DrawDrawing {
		s.Kind = SessionDrawing
		s.LayerID = c.drawer.Layer().ID
		s.Draft = true
		s.Vertices = c.drawer.VertexCount()
		if s.Vertices > 0 {
			g := c.drawer.Draft()
			s.Geometry = &g
		}
		s.CanUndo = s.Vertices > 0
		s.CanCancel = true
	}
	return s
}

// teardown 丢弃当前会话，编辑中的几何恢复原样
func (c *Controller) teardown() {
	if c.active == nil && c.drawer.State() != DrawDrawing {
		c.drawer.Abort()
		return
	}
	s := c.snapshot()
	if c.active != nil {
		_, _ = c.modifier.Cancel(*c.active)
		c.active = nil
	}
	c.drawer.Abort()
	c.sessionID = ""
	c.emitClosed(s, models.SessionRolledBack)
}

func (c *Controller) checkIdle(action string) error {
	if c.committing {
		return models.InvalidState("%s while a commit is in progress", action)
	}
	return nil
}

func (c *Controller) enter(m Mode) {
	c.teardown()
	if c.mode != m {
		from := c.mode
		c.mode = m
		c.emitMode(from, m)
	}
}

// ChangeMode 切换模式，离开绘制/编辑模式时丢弃会话
func (c *Controller) ChangeMode(ctx context.Context, m Mode) (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		if err := c.checkIdle("change mode"); err != nil {
			return err
		}
		if m != c.mode {
			c.enter(m)
		}
		s = c.snapshot()
		return nil
	})
	return s, err
}

// StartDrawing 进入绘制模式并开始在 layerID 上绘制，之前的会话被丢弃
func (c *Controller) StartDrawing(ctx context.Context, layerID string) (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		if err := c.checkIdle("start drawing"); err != nil {
			return err
		}
		layer, err := c.project.Layer(layerID)
		if err != nil {
			return err
		}
		c.enter(ModeDraw)
		c.drawer.Start(layer)
		c.sessionID = uuid.New().String()
		c.emitOpened()
		s = c.snapshot()
		return nil
	})
	return s, err
}

// StartGeometryEdit 进入几何编辑模式，编辑图层集合中的要素副本
func (c *Controller) StartGeometryEdit(ctx context.Context, layerID string, id models.FeatureID) (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		if err := c.checkIdle("start editing"); err != nil {
			return err
		}
		layer, err := c.project.Layer(layerID)
		if err != nil {
			return err
		}
		f, ok := layer.Source.Find(id)
		if !ok || f.Deleted {
			return models.FeatureNotFound(layerID, id)
		}
		c.enter(ModeGeometryEdit)
		sess, err := c.modifier.Begin(layer, f, false)
		if err != nil {
			return err
		}
		c.active = &sess.Key
		c.sessionID = uuid.New().String()
		c.emitOpened()
		s = c.snapshot()
		return nil
	})
	return s, err
}

// Pointer 绘制模式下放置一个顶点
func (c *Controller) Pointer(at geom.Coord) (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		if c.mode != ModeDraw || c.drawer.State() != DrawDrawing {
			return models.InvalidState("pointer placement outside a drawing session")
		}
		closed, err := c.drawer.AddVertex(at)
		if err != nil {
			return err
		}
		if closed {
			if err := c.seedModify(); err != nil {
				return err
			}
		}
		s = c.snapshot()
		return nil
	})
	return s, err
}

// CloseShape 完成线/面的绘制，转入编辑阶段
func (c *Controller) CloseShape() (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		if c.drawer.State() != DrawDrawing {
			return models.InvalidState("close shape outside a drawing session")
		}
		if _, err := c.drawer.Close(); err != nil {
			return err
		}
		if err := c.seedModify(); err != nil {
			return err
		}
		s = c.snapshot()
		return nil
	})
	return s, err
}

// seedModify 用刚画完的几何开始编辑会话，会话 ID 不变
func (c *Controller) seedModify() error {
	layer := c.drawer.Layer()
	draft := &models.Feature{LayerID: layer.ID, Geometry: c.drawer.Draft(), IsNew: true}
	sess, err := c.modifier.Begin(layer, draft, true)
	if err != nil {
		return err
	}
	c.active = &sess.Key
	return nil
}

// Undo 撤销最后一个顶点；没有顶点时返回 false
func (c *Controller) Undo() (bool, Snapshot, error) {
	var (
		s       Snapshot
		removed bool
	)
	err := c.do(func() error {
		if c.drawer.State() != DrawDrawing {
			return models.InvalidState("undo outside a drawing session")
		}
		var err error
		removed, err = c.drawer.UndoLastVertex()
		s = c.snapshot()
		return err
	})
	return removed, s, err
}

// Edit 在当前编辑会话上执行 fn
func (c *Controller) Edit(fn func(s *ModifySession) error) (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		if err := c.checkIdle("edit geometry"); err != nil {
			return err
		}
		if c.active == nil {
			return models.InvalidState("no geometry edit session")
		}
		sess, ok := c.modifier.Session(*c.active)
		if !ok {
			return models.InvalidState("edit session %s vanished", c.sessionID)
		}
		if err := fn(sess); err != nil {
			return err
		}
		s = c.snapshot()
		return nil
	})
	return s, err
}

func (c *Controller) MoveVertex(part, ring, index int, at geom.Coord) (Snapshot, error) {
	return c.Edit(func(s *ModifySession) error { return s.MoveVertex(part, ring, index, at) })
}

func (c *Controller) InsertVertex(part, ring, index int, at geom.Coord) (Snapshot, error) {
	return c.Edit(func(s *ModifySession) error { return s.InsertVertex(part, ring, index, at) })
}

func (c *Controller) RemoveVertex(part, ring, index int) (Snapshot, error) {
	return c.Edit(func(s *ModifySession) error { return s.RemoveVertex(part, ring, index) })
}

func (c *Controller) Translate(dx, dy float64) (Snapshot, error) {
	return c.Edit(func(s *ModifySession) error {
		s.Translate(dx, dy)
		return nil
	})
}

// Cancel 丢弃当前会话，模式不变。没有会话时什么也不做。
func (c *Controller) Cancel() (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		if err := c.checkIdle("cancel"); err != nil {
			return err
		}
		c.teardown()
		s = c.snapshot()
		return nil
	})
	return s, err
}

type commitPlan struct {
	key      SessionKey
	snap     Snapshot
	draft    bool
	geometry geom.Geometry
	changed  bool
}

func (c *Controller) beginCommit() (commitPlan, error) {
	var plan commitPlan
	err := c.do(func() error {
		if c.committing {
			return models.InvalidState("commit already in progress")
		}
		if c.active == nil {
			if c.drawer.State() == DrawDrawing {
				return models.InvalidState("commit before the shape is closed")
			}
			return models.InvalidState("nothing to commit")
		}
		sess, ok := c.modifier.Session(*c.active)
		if !ok {
			return models.InvalidState("edit session %s vanished", c.sessionID)
		}
		c.committing = true
		plan = commitPlan{
			key:      sess.Key,
			snap:     c.snapshot(),
			draft:    sess.Draft,
			geometry: sess.Geometry(),
			changed:  sess.Changed(),
		}
		return nil
	})
	return plan, err
}

func (c *Controller) persist(ctx context.Context, plan commitPlan, attrs map[string]interface{}) (*models.Feature, error) {
	if c.store == nil {
		return nil, fmt.Errorf("controller has no feature store")
	}
	if plan.draft {
		return c.store.CreateFeature(ctx, plan.key.LayerID, plan.geometry, attrs)
	}
	// 属性和几何一起写入，后端失败时两者都不生效
	var g *geom.Geometry
	if plan.changed || len(attrs) == 0 {
		g = &plan.geometry
	}
	return c.store.UpdateFeature(ctx, plan.key.LayerID, plan.key.FeatureID, attrs, g)
}

// endCommit 成功时关闭会话；失败时保留会话，用户可以重试或取消
func (c *Controller) endCommit(plan commitPlan, err error) {
	_ = c.do(func() error {
		c.committing = false
		if err != nil {
			return nil
		}
		if _, ferr := c.modifier.Finish(plan.key); ferr == nil {
			c.active = nil
		}
		c.drawer.Abort()
		c.sessionID = ""
		plan.snap.Committing = false
		c.emitClosed(plan.snap, models.SessionCommitted)
		return nil
	})
}

// Commit 持久化当前会话的几何。attrs 对新绘制的要素是初始属性，对已有要素是属性修改。
func (c *Controller) Commit(ctx context.Context, attrs map[string]interface{}) (*models.Feature, error) {
	plan, err := c.beginCommit()
	if err != nil {
		return nil, err
	}
	f, err := c.persist(ctx, plan, attrs)
	c.endCommit(plan, err)
	return f, err
}

// CommitAsync 立即关闭提交闸门，在后台持久化
func (c *Controller) CommitAsync(ctx context.Context, attrs map[string]interface{}) *methods.Task[*models.Feature] {
	plan, err := c.beginCommit()
	if err != nil {
		return methods.Resolved[*models.Feature](nil, err)
	}
	return methods.Go(ctx, func(ctx context.Context) (*models.Feature, error) {
		f, err := c.persist(ctx, plan, attrs)
		c.endCommit(plan, err)
		return f, err
	})
}

// Click 查询模式下做点击查询，没有命中时不触发回调
func (c *Controller) Click(at geom.Coord) (InfoResult, error) {
	c.mu.Lock()
	if c.mode != ModeInfo {
		c.mu.Unlock()
		return InfoResult{}, models.InvalidState("click inspection outside info mode")
	}
	tol := c.Tolerance
	c.mu.Unlock()

	res := inspect(c.project.Layers(), at, tol)
	if res.Kind != InfoNone && c.hooks.Info != nil {
		c.hooks.Info(res)
	}
	return res, nil
}
