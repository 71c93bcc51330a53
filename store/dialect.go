package store

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect 不同空间数据库的标识符引用与几何函数
type Dialect struct {
	Name string
	// quote 标识符引用字符
	quote string
	// geomIn 几何入库表达式，参数为 WKT 与 SRID 两个占位符
	geomIn func() string
	// geomOut 几何出库为 WKT 的表达式
	geomOut func(col string) string
	like    string
	// likeEscape LIKE 的转义子句，PostgreSQL 与 MySQL 默认已用反斜杠转义
	likeEscape string
	// ewkt 为 true 时几何以 EWKT 文本直接存储，只绑定一个参数
	ewkt bool
}

var (
	// Spatialite SQLite + SpatiaLite 扩展
	Spatialite = Dialect{
		Name:       "spatialite",
		quote:      `"`,
		geomIn:     func() string { return "GeomFromText(?, ?)" },
		geomOut:    func(col string) string { return "AsText(" + col + ")" },
		like:       "LIKE",
		likeEscape: ` ESCAPE '\'`,
	}
	PostGIS = Dialect{
		Name:    "postgres",
		quote:   `"`,
		geomIn:  func() string { return "ST_GeomFromText(?, ?)" },
		geomOut: func(col string) string { return "ST_AsText(" + col + ")" },
		like:    "ILIKE",
	}
	MySQL = Dialect{
		Name:    "mysql",
		quote:   "`",
		geomIn:  func() string { return "ST_GeomFromText(?, ?)" },
		geomOut: func(col string) string { return "ST_AsText(" + col + ")" },
		like:    "LIKE",
	}
	// PlainSQLite 无空间扩展的 SQLite，几何存为 EWKT 文本
	PlainSQLite = Dialect{
		Name:       "sqlite",
		quote:      `"`,
		geomIn:     func() string { return "?" },
		geomOut:    func(col string) string { return col },
		like:       "LIKE",
		likeEscape: ` ESCAPE '\'`,
		ewkt:       true,
	}
)

func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "spatialite":
		return Spatialite, nil
	case "postgres", "postgis", "postgresql":
		return PostGIS, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return PlainSQLite, nil
	}
	return Dialect{}, fmt.Errorf("unknown database dialect %q", name)
}

var identRe = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)

// Ident 引用表名或列名。名称只来自图层配置，仍然拒绝不符合标识符规则的名称。
func (d Dialect) Ident(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("illegal identifier %q", name)
	}
	return d.quote + name + d.quote, nil
}
