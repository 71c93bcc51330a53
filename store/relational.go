package store

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"gorm.io/gorm"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
)

// Row 一行查询结果，键为列名
type Row map[string]interface{}

// Executor 执行 SQL 的通道，适配器只依赖这个接口
type Executor interface {
	Query(ctx context.Context, sql string, args ...interface{}) ([]Row, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (int64, error)
}

// GormExecutor 基于 gorm 连接的 Executor
type GormExecutor struct {
	DB *gorm.DB
}

func (e GormExecutor) Query(ctx context.Context, sql string, args ...interface{}) ([]Row, error) {
	var rows []map[string]interface{}
	if err := e.DB.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		for k, v := range r {
			r[k] = scanValue(v)
		}
		out = append(out, Row(r))
	}
	return out, nil
}

// scanValue 表达式列（COUNT(*)、ST_AsText 等）没有声明类型，gorm 扫描成 *interface{}
func scanValue(v interface{}) interface{} {
	if p, ok := v.(*interface{}); ok {
		if p == nil {
			return nil
		}
		v = *p
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (e GormExecutor) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	res := e.DB.WithContext(ctx).Exec(sql, args...)
	return res.RowsAffected, res.Error
}

// RelationalAdapter 空间表后端，所有写操作立即执行
type RelationalAdapter struct {
	Exec    Executor
	Dialect Dialect
}

func NewRelationalAdapter(exec Executor, d Dialect) *RelationalAdapter {
	return &RelationalAdapter{Exec: exec, Dialect: d}
}

func (a *RelationalAdapter) Kind() models.Backend { return models.BackendRelational }

func (a *RelationalAdapter) builder(layer *models.Layer) builder {
	return builder{d: a.Dialect, layer: layer}
}

func (a *RelationalAdapter) exec(ctx context.Context, op string, layer *models.Layer, st Statement) (int64, error) {
	n, err := a.Exec.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		log.Printf("%s %s 失败: %v; sql: %s", op, layer.ID, err, st)
		return 0, models.NewBackendError(op, layer.ID, err)
	}
	return n, nil
}

func (a *RelationalAdapter) query(ctx context.Context, op string, layer *models.Layer, st Statement) ([]Row, error) {
	rows, err := a.Exec.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		log.Printf("%s %s 失败: %v; sql: %s", op, layer.ID, err, st)
		return nil, models.NewBackendError(op, layer.ID, err)
	}
	return rows, nil
}

func intID(layer *models.Layer, id models.FeatureID) (int64, error) {
	n, ok := id.Int()
	if !ok {
		return 0, models.NewValidationError(layer.IDField(), "relational id %q is not an integer", id)
	}
	return n, nil
}

// storageAttrs 转为存储原始值，未声明的字段拒绝
func storageAttrs(layer *models.Layer, attrs map[string]interface{}) (map[string]interface{}, error) {
	out, err := methods.ValidateAttributes(layer.Schema, attrs)
	if err != nil {
		return nil, err
	}
	delete(out, layer.IDField())
	return out, nil
}

func (a *RelationalAdapter) Create(ctx context.Context, layer *models.Layer, f *models.Feature) (models.FeatureID, error) {
	id, err := intID(layer, f.ID)
	if err != nil {
		return "", err
	}
	g, err := f.Geometry.Conform(layer.GeometryType)
	if err != nil {
		return "", models.NewValidationError("geometry", "%v", err)
	}
	attrs, err := storageAttrs(layer, f.Properties)
	if err != nil {
		return "", err
	}
	st, err := a.builder(layer).insert(id, attrs, g)
	if err != nil {
		return "", models.NewBackendError("insert", layer.ID, err)
	}
	if _, err := a.exec(ctx, "insert", layer, st); err != nil {
		return "", err
	}
	return models.IntID(id), nil
}

func (a *RelationalAdapter) Update(ctx context.Context, layer *models.Layer, id models.FeatureID, patch map[string]interface{}, g *geom.Geometry) error {
	if _, ok := layer.Source.Find(id); !ok {
		return models.FeatureNotFound(layer.ID, id)
	}
	n, err := intID(layer, id)
	if err != nil {
		return err
	}
	attrs, err := storageAttrs(layer, patch)
	if err != nil {
		return err
	}
	var conformed *geom.Geometry
	if g != nil {
		c, err := g.Conform(layer.GeometryType)
		if err != nil {
			return models.NewValidationError("geometry", "%v", err)
		}
		conformed = &c
	}
	st, err := a.builder(layer).update(n, attrs, conformed)
	if err != nil {
		return models.NewBackendError("update", layer.ID, err)
	}
	if st.SQL == "" {
		return nil
	}
	affected, err := a.exec(ctx, "update", layer, st)
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.FeatureNotFound(layer.ID, id)
	}
	return nil
}

func (a *RelationalAdapter) Delete(ctx context.Context, layer *models.Layer, id models.FeatureID) error {
	if _, ok := layer.Source.Find(id); !ok {
		return models.FeatureNotFound(layer.ID, id)
	}
	n, err := intID(layer, id)
	if err != nil {
		return err
	}
	st, err := a.builder(layer).delete(n)
	if err != nil {
		return models.NewBackendError("delete", layer.ID, err)
	}
	_, err = a.exec(ctx, "delete", layer, st)
	return err
}

// Clear 删除表中全部行，关系型图层不能被删除，只能清空
func (a *RelationalAdapter) Clear(ctx context.Context, layer *models.Layer) error {
	st, err := a.builder(layer).clear()
	if err != nil {
		return models.NewBackendError("clear", layer.ID, err)
	}
	_, err = a.exec(ctx, "clear", layer, st)
	return err
}

func (a *RelationalAdapter) Read(ctx context.Context, layer *models.Layer, id models.FeatureID) (map[string]interface{}, error) {
	n, err := intID(layer, id)
	if err != nil {
		return nil, err
	}
	st, err := a.builder(layer).read(n)
	if err != nil {
		return nil, models.NewBackendError("read", layer.ID, err)
	}
	rows, err := a.query(ctx, "read", layer, st)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, models.FeatureNotFound(layer.ID, id)
	}
	return methods.Restrict(layer.Schema, rows[0]), nil
}

func (a *RelationalAdapter) Query(ctx context.Context, layer *models.Layer, q Query) (*QueryResult, error) {
	conds, err := compileFilters(layer.Schema, q.Filters)
	if err != nil {
		return nil, err
	}
	if err := checkSort(layer.Schema, q.Sort, layer.IDField()); err != nil {
		return nil, err
	}
	b := a.builder(layer)
	countSt, err := b.count(conds)
	if err != nil {
		return nil, models.NewBackendError("count", layer.ID, err)
	}
	pageSt, err := b.selectPage(conds, q.Sort, q.Offset, q.Limit)
	if err != nil {
		return nil, models.NewBackendError("query", layer.ID, err)
	}
	counted, err := a.query(ctx, "count", layer, countSt)
	if err != nil {
		return nil, err
	}
	total := 0
	if len(counted) > 0 {
		total = int(toInt64(counted[0]["total"]))
	}
	rows, err := a.query(ctx, "query", layer, pageSt)
	if err != nil {
		return nil, err
	}
	features, err := a.rowsToFeatures(layer, rows)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Rows: features, Total: total}, nil
}

func (a *RelationalAdapter) Load(ctx context.Context, layer *models.Layer) ([]*models.Feature, error) {
	st, err := a.builder(layer).selectPage(nil, nil, 0, 0)
	if err != nil {
		return nil, models.NewBackendError("load", layer.ID, err)
	}
	rows, err := a.query(ctx, "load", layer, st)
	if err != nil {
		return nil, err
	}
	return a.rowsToFeatures(layer, rows)
}

// Sync 关系型写操作都已立即生效
func (a *RelationalAdapter) Sync(ctx context.Context, layer *models.Layer) error { return nil }

func (a *RelationalAdapter) rowsToFeatures(layer *models.Layer, rows []Row) ([]*models.Feature, error) {
	out := make([]*models.Feature, 0, len(rows))
	for _, r := range rows {
		f := &models.Feature{
			ID:         models.IntID(toInt64(r[layer.IDField()])),
			LayerID:    layer.ID,
			Properties: methods.Restrict(layer.Schema, r),
		}
		delete(f.Properties, layer.IDField())
		if wkt, ok := r[wktAlias].(string); ok && wkt != "" {
			g, err := geom.ParseWKT(wkt)
			if err != nil {
				return nil, models.NewBackendError("decode geometry", layer.ID, fmt.Errorf("row %s: %w", f.ID, err))
			}
			f.Geometry = g
		}
		layer.DeriveFields(f)
		out = append(out, f)
	}
	return out, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
