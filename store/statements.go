package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
)

// Statement 带绑定参数的语句，值从不拼进 SQL 文本
type Statement struct {
	SQL  string
	Args []interface{}
}

// String 日志展示用，参数按字面量代入
func (s Statement) String() string {
	var b strings.Builder
	arg := 0
	for _, r := range s.SQL {
		if r != '?' || arg >= len(s.Args) {
			b.WriteRune(r)
			continue
		}
		switch v := s.Args[arg].(type) {
		case nil:
			b.WriteString("NULL")
		case string:
			b.WriteString(methods.QuoteLiteral(v))
		case int64:
			b.WriteString(strconv.FormatInt(v, 10))
		case int:
			b.WriteString(strconv.Itoa(v))
		case float64:
			b.WriteString(geom.FormatFloat(v))
		default:
			b.WriteString(methods.QuoteLiteral(fmt.Sprint(v)))
		}
		arg++
	}
	return b.String()
}

// wktAlias 查询结果中几何 WKT 列的别名
const wktAlias = "__wkt"

type builder struct {
	d     Dialect
	layer *models.Layer
}

func (b builder) table() (string, error) {
	if b.layer.Table == "" {
		return "", fmt.Errorf("layer %s has no table", b.layer.ID)
	}
	return b.d.Ident(b.layer.Table)
}

func (b builder) srid() int {
	if b.layer.SRID == 0 {
		return geom.SRIDMercator
	}
	return b.layer.SRID
}

// geomValue 几何入库表达式与参数
func (b builder) geomValue(g geom.Geometry) (string, []interface{}) {
	if b.d.ewkt {
		return b.d.geomIn(), []interface{}{geom.EWKT(g, b.srid())}
	}
	return b.d.geomIn(), []interface{}{geom.MarshalWKT(g), b.srid()}
}

// sortedAttrs 按图层字段顺序取出 attrs 中的字段
func (b builder) sortedAttrs(attrs map[string]interface{}) []models.AttributeEntry {
	out := make([]models.AttributeEntry, 0, len(attrs))
	for _, e := range b.layer.Schema {
		if e.Name == b.layer.IDField() {
			continue
		}
		if _, ok := attrs[e.Name]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (b builder) insert(id int64, attrs map[string]interface{}, g geom.Geometry) (Statement, error) {
	table, err := b.table()
	if err != nil {
		return Statement{}, err
	}
	idCol, _ := b.d.Ident(b.layer.IDField())
	geomCol, err := b.d.Ident(b.layer.GeomColumn())
	if err != nil {
		return Statement{}, err
	}
	cols := []string{idCol}
	vals := []string{"?"}
	args := []interface{}{id}
	for _, e := range b.sortedAttrs(attrs) {
		col, err := b.d.Ident(e.Name)
		if err != nil {
			return Statement{}, err
		}
		cols = append(cols, col)
		vals = append(vals, "?")
		args = append(args, attrs[e.Name])
	}
	expr, gargs := b.geomValue(g)
	cols = append(cols, geomCol)
	vals = append(vals, expr)
	args = append(args, gargs...)
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	return Statement{SQL: sql, Args: args}, nil
}

func (b builder) update(id int64, patch map[string]interface{}, g *geom.Geometry) (Statement, error) {
	table, err := b.table()
	if err != nil {
		return Statement{}, err
	}
	var sets []string
	var args []interface{}
	for _, e := range b.sortedAttrs(patch) {
		col, err := b.d.Ident(e.Name)
		if err != nil {
			return Statement{}, err
		}
		sets = append(sets, col+" = ?")
		args = append(args, patch[e.Name])
	}
	if g != nil {
		geomCol, err := b.d.Ident(b.layer.GeomColumn())
		if err != nil {
			return Statement{}, err
		}
		expr, gargs := b.geomValue(*g)
		sets = append(sets, geomCol+" = "+expr)
		args = append(args, gargs...)
	}
	if len(sets) == 0 {
		return Statement{}, nil
	}
	idCol, _ := b.d.Ident(b.layer.IDField())
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(sets, ", "), idCol)
	return Statement{SQL: sql, Args: args}, nil
}

func (b builder) delete(id int64) (Statement, error) {
	table, err := b.table()
	if err != nil {
		return Statement{}, err
	}
	idCol, _ := b.d.Ident(b.layer.IDField())
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, idCol), Args: []interface{}{id}}, nil
}

func (b builder) clear() (Statement, error) {
	table, err := b.table()
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DELETE FROM " + table}, nil
}

// columns id、全部字段、几何 WKT
func (b builder) columns(withGeom bool) (string, error) {
	idCol, _ := b.d.Ident(b.layer.IDField())
	cols := []string{idCol}
	for _, e := range b.layer.Schema {
		if e.Name == b.layer.IDField() {
			continue
		}
		col, err := b.d.Ident(e.Name)
		if err != nil {
			return "", err
		}
		cols = append(cols, col)
	}
	if withGeom {
		geomCol, err := b.d.Ident(b.layer.GeomColumn())
		if err != nil {
			return "", err
		}
		alias, _ := b.d.Ident(wktAlias)
		cols = append(cols, b.d.geomOut(geomCol)+" AS "+alias)
	}
	return strings.Join(cols, ", "), nil
}

func (b builder) read(id int64) (Statement, error) {
	table, err := b.table()
	if err != nil {
		return Statement{}, err
	}
	cols, err := b.columns(false)
	if err != nil {
		return Statement{}, err
	}
	idCol, _ := b.d.Ident(b.layer.IDField())
	return Statement{SQL: fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", cols, table, idCol), Args: []interface{}{id}}, nil
}

func (b builder) where(conds []condition) (string, []interface{}, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	var parts []string
	var args []interface{}
	for _, c := range conds {
		col, err := b.d.Ident(c.entry.Name)
		if err != nil {
			return "", nil, err
		}
		switch c.kind {
		case filterLike:
			parts = append(parts, fmt.Sprintf("%s %s ?%s", col, b.d.like, b.d.likeEscape))
			args = append(args, "%"+escapeLike(methods.TextValue(c.value))+"%")
		case filterEqual:
			parts = append(parts, col+" = ?")
			args = append(args, c.value)
		case filterRange:
			parts = append(parts, col+" BETWEEN ? AND ?")
			args = append(args, c.lo, c.hi)
		case filterIn:
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(c.set)), ", ")
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, marks))
			args = append(args, c.set...)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// selectPage 过滤、排序（主键兜底）、分页
func (b builder) selectPage(conds []condition, s *Sort, offset, limit int) (Statement, error) {
	table, err := b.table()
	if err != nil {
		return Statement{}, err
	}
	cols, err := b.columns(true)
	if err != nil {
		return Statement{}, err
	}
	where, args, err := b.where(conds)
	if err != nil {
		return Statement{}, err
	}
	idCol, _ := b.d.Ident(b.layer.IDField())
	order := idCol
	if s != nil && s.Field != "" && s.Field != b.layer.IDField() {
		col, err := b.d.Ident(s.Field)
		if err != nil {
			return Statement{}, err
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		order = col + " " + dir + ", " + idCol
	} else if s != nil && s.Desc {
		order = idCol + " DESC"
	}
	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", cols, table, where, order)
	if limit > 0 {
		sql += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		// SQLite 和 MySQL 的 OFFSET 必须跟在 LIMIT 之后
		sql += " LIMIT ?"
		args = append(args, int64(1<<62))
	}
	if offset > 0 {
		sql += " OFFSET ?"
		args = append(args, offset)
	}
	return Statement{SQL: sql, Args: args}, nil
}

func (b builder) count(conds []condition) (Statement, error) {
	table, err := b.table()
	if err != nil {
		return Statement{}, err
	}
	where, args, err := b.where(conds)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", table, where), Args: args}, nil
}
