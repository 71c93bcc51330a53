package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/methods"
	"github.com/GrainArc/MapEditor/models"
)

func wellsLayer() *models.Layer {
	return &models.Layer{
		ID:           "wells",
		Label:        "Wells",
		GeometryType: geom.MultiPoint,
		Backend:      models.BackendRelational,
		Table:        "wells",
		SRID:         3857,
		Schema: models.Schema{
			{Name: "name", Type: models.FieldString},
			{Name: "height", Type: models.FieldNumber},
			{Name: "kind", Type: models.FieldEnum, Options: map[string]string{"1": "Low", "2": "High"}},
			{Name: "built", Type: models.FieldDate},
		},
		StyleTypeField: "kind",
		LabelField:     "name",
		Source:         models.NewFeatureSource(),
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	err = db.Exec(`CREATE TABLE wells (id INTEGER PRIMARY KEY, name TEXT, height REAL, kind TEXT, built TEXT, geom TEXT)`).Error
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func newRelational(t *testing.T) (*RelationalAdapter, *models.Layer) {
	t.Helper()
	return NewRelationalAdapter(GormExecutor{DB: openTestDB(t)}, PlainSQLite), wellsLayer()
}

func seed(t *testing.T, a *RelationalAdapter, layer *models.Layer, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		f := &models.Feature{
			ID:       models.IntID(int64(i)),
			Geometry: geom.NewPoint(geom.Coord{float64(i), float64(i), 0}),
			Properties: map[string]interface{}{
				"name":   fmt.Sprintf("well %d", i),
				"height": i % 3,
				"kind":   fmt.Sprint(i%2 + 1),
			},
		}
		if _, err := a.Create(ctx, layer, f); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		layer.Source.Add(f)
	}
}

func TestRelationalCreateRead(t *testing.T) {
	a, layer := newRelational(t)
	ctx := context.Background()
	attrs := map[string]interface{}{"name": "O'Brien", "height": "12.5", "built": "2024/3/1"}
	f := &models.Feature{ID: "1", Geometry: geom.NewPoint(geom.Coord{10, 20, 5}), Properties: attrs}

	id, err := a.Create(ctx, layer, f)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "1" {
		t.Errorf("id = %s", id)
	}
	layer.Source.Add(f)

	got, err := a.Read(ctx, layer, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want, _ := methods.ValidateAttributes(layer.Schema, attrs)
	for k, v := range want {
		if fmt.Sprint(got[k]) != fmt.Sprint(v) {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}

	res, err := a.Query(ctx, layer, Query{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 1 || len(res.Rows) != 1 {
		t.Fatalf("query = %+v", res)
	}
	row := res.Rows[0]
	if row.ID != "1" || row.Geometry.Type != geom.MultiPoint || row.Geometry.Parts[0][0][0] != (geom.Coord{10, 20, 5}) {
		t.Errorf("row = %+v", row)
	}
	if row.Label != "O'Brien" || row.StyleType != models.DefaultStyleType {
		t.Errorf("derived fields = %q %q", row.Label, row.StyleType)
	}
}

func TestGormExecutorExpressionColumns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	exec := GormExecutor{DB: db}
	for i := 1; i <= 3; i++ {
		if _, err := exec.Exec(ctx, `INSERT INTO wells (id, name, geom) VALUES (?, ?, ?)`, i, fmt.Sprint("w", i), "  POINT Z (1 2 3)"); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := exec.Query(ctx, `SELECT COUNT(*) AS total FROM wells`)
	if err != nil {
		t.Fatal(err)
	}
	if n := toInt64(rows[0]["total"]); n != 3 {
		t.Errorf("total = %v (%T), want 3", rows[0]["total"], rows[0]["total"])
	}

	rows, err = exec.Query(ctx, `SELECT "id", ltrim("geom") AS "__wkt" FROM wells ORDER BY "id"`)
	if err != nil {
		t.Fatal(err)
	}
	if wkt, ok := rows[0][wktAlias].(string); !ok || wkt != "POINT Z (1 2 3)" {
		t.Errorf("__wkt = %v (%T)", rows[0][wktAlias], rows[0][wktAlias])
	}
	if toInt64(rows[2]["id"]) != 3 {
		t.Errorf("id = %v", rows[2]["id"])
	}
}

func TestRelationalQueryPagesPartition(t *testing.T) {
	a, layer := newRelational(t)
	seed(t, a, layer, 7)
	ctx := context.Background()

	seen := map[models.FeatureID]bool{}
	for offset := 0; offset < 7; offset += 3 {
		res, err := a.Query(ctx, layer, Query{Offset: offset, Limit: 3})
		if err != nil {
			t.Fatalf("Query offset %d: %v", offset, err)
		}
		if res.Total != 7 {
			t.Errorf("total = %d, want 7", res.Total)
		}
		for _, r := range res.Rows {
			if seen[r.ID] {
				t.Errorf("row %s returned twice", r.ID)
			}
			seen[r.ID] = true
		}
	}
	if len(seen) != 7 {
		t.Errorf("pages covered %d rows, want 7", len(seen))
	}

	res, err := a.Query(ctx, layer, Query{Offset: 5})
	if err != nil {
		t.Fatalf("offset without limit: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Errorf("offset 5 rows = %d, want 2", len(res.Rows))
	}
}

func TestRelationalQueryFilters(t *testing.T) {
	a, layer := newRelational(t)
	seed(t, a, layer, 6)
	ctx := context.Background()

	cases := []struct {
		name    string
		filters map[string]Filter
		want    int
	}{
		{"like", map[string]Filter{"name": {Value: "WELL 1"}}, 1},
		{"like escapes wildcard", map[string]Filter{"name": {Value: "%"}}, 0},
		{"enum equal", map[string]Filter{"kind": {Value: "2"}}, 3},
		{"enum set", map[string]Filter{"kind": {In: []interface{}{"1", "2"}}}, 6},
		{"number equal", map[string]Filter{"height": {Value: "0"}}, 2},
		{"number range", map[string]Filter{"height": {Range: &[2]float64{1, 2}}}, 4},
		{"combined", map[string]Filter{"height": {Range: &[2]float64{2, 1}}, "kind": {Value: "1"}}, 2},
	}
	for _, tc := range cases {
		res, err := a.Query(ctx, layer, Query{Filters: tc.filters})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Total != tc.want || len(res.Rows) != tc.want {
			t.Errorf("%s: total = %d rows = %d, want %d", tc.name, res.Total, len(res.Rows), tc.want)
		}
	}

	if _, err := a.Query(ctx, layer, Query{Filters: map[string]Filter{"name": {Range: &[2]float64{0, 1}}}}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("range on STRING: err = %v", err)
	}
	if _, err := a.Query(ctx, layer, Query{Filters: map[string]Filter{"nope": {Value: 1}}}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("unknown field: err = %v", err)
	}
}

func TestRelationalQuerySortTieBreak(t *testing.T) {
	a, layer := newRelational(t)
	seed(t, a, layer, 6)
	res, err := a.Query(context.Background(), layer, Query{Sort: &Sort{Field: "height", Desc: true}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var got []string
	for _, r := range res.Rows {
		got = append(got, string(r.ID))
	}
	// height = id % 3: 2 -> {2,5}, 1 -> {1,4}, 0 -> {3,6}
	if strings.Join(got, ",") != "2,5,1,4,3,6" {
		t.Errorf("order = %v", got)
	}
}

func TestRelationalUpdateDelete(t *testing.T) {
	a, layer := newRelational(t)
	seed(t, a, layer, 2)
	ctx := context.Background()

	g := geom.NewPoint(geom.Coord{7, 8, 9})
	if err := a.Update(ctx, layer, "1", map[string]interface{}{"name": "renamed"}, &g); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := a.Read(ctx, layer, "1")
	if got["name"] != "renamed" || fmt.Sprint(got["height"]) != "1" {
		t.Errorf("after update = %v", got)
	}

	if err := a.Delete(ctx, layer, "2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := a.Read(ctx, layer, "2"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Read deleted: err = %v", err)
	}

	if err := a.Update(ctx, layer, "1", map[string]interface{}{"colour": "red"}, nil); !errors.Is(err, models.ErrValidation) {
		t.Errorf("unknown attribute: err = %v", err)
	}
	if err := a.Clear(ctx, layer); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	res, _ := a.Query(ctx, layer, Query{})
	if res.Total != 0 {
		t.Errorf("after clear total = %d", res.Total)
	}
}

// recordingExec 记录执行过的语句，可注入失败
type recordingExec struct {
	statements []Statement
	err        error
	rows       []Row
}

func (r *recordingExec) Query(ctx context.Context, sql string, args ...interface{}) ([]Row, error) {
	r.statements = append(r.statements, Statement{SQL: sql, Args: args})
	return r.rows, r.err
}

func (r *recordingExec) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	r.statements = append(r.statements, Statement{SQL: sql, Args: args})
	return 1, r.err
}

func TestRelationalUpdateMissingIssuesNoSQL(t *testing.T) {
	exec := &recordingExec{}
	a := NewRelationalAdapter(exec, Spatialite)
	layer := wellsLayer()
	err := a.Update(context.Background(), layer, "7", map[string]interface{}{"name": "X"}, nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(exec.statements) != 0 {
		t.Errorf("issued %d statements", len(exec.statements))
	}
}

func TestRelationalBackendError(t *testing.T) {
	exec := &recordingExec{err: errors.New("UNIQUE constraint failed")}
	a := NewRelationalAdapter(exec, Spatialite)
	layer := wellsLayer()
	_, err := a.Create(context.Background(), layer, &models.Feature{ID: "1", Geometry: geom.NewPoint(geom.Coord{1, 1, 0})})
	var be *models.BackendError
	if !errors.As(err, &be) || be.Op != "insert" || be.Layer != "wells" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, models.ErrBackend) {
		t.Error("error does not match ErrBackend")
	}
}

func TestStatementsBindValues(t *testing.T) {
	layer := wellsLayer()
	attrs := map[string]interface{}{"name": "x'); DROP TABLE wells; --", "height": int64(3)}
	g := geom.NewPoint(geom.Coord{1, 2, 3}).Promote()

	cases := []struct {
		d    Dialect
		want string
	}{
		{Spatialite, `INSERT INTO "wells" ("id", "name", "height", "geom") VALUES (?, ?, ?, GeomFromText(?, ?))`},
		{PostGIS, `INSERT INTO "wells" ("id", "name", "height", "geom") VALUES (?, ?, ?, ST_GeomFromText(?, ?))`},
		{MySQL, "INSERT INTO `wells` (`id`, `name`, `height`, `geom`) VALUES (?, ?, ?, ST_GeomFromText(?, ?))"},
	}
	for _, tc := range cases {
		st, err := builder{d: tc.d, layer: layer}.insert(9, attrs, g)
		if err != nil {
			t.Fatalf("%s insert: %v", tc.d.Name, err)
		}
		if st.SQL != tc.want {
			t.Errorf("%s SQL = %s", tc.d.Name, st.SQL)
		}
		if len(st.Args) != 5 || st.Args[1] != attrs["name"] || st.Args[3] != "MULTIPOINT Z ((1 2 3))" || st.Args[4] != 3857 {
			t.Errorf("%s args = %v", tc.d.Name, st.Args)
		}
	}

	st, _ := builder{d: Spatialite, layer: layer}.insert(9, attrs, g)
	if !strings.Contains(st.String(), `'x''); DROP TABLE wells; --'`) {
		t.Errorf("log rendering = %s", st)
	}

	bad := wellsLayer()
	bad.Schema = append(bad.Schema, models.AttributeEntry{Name: `name"; --`, Type: models.FieldString})
	if _, err := (builder{d: Spatialite, layer: bad}).columns(false); err == nil {
		t.Error("expected illegal identifier error")
	}
}

func TestSelectStatement(t *testing.T) {
	layer := wellsLayer()
	conds, err := compileFilters(layer.Schema, map[string]Filter{
		"name":   {Value: "a_b"},
		"height": {Range: &[2]float64{1, 5}},
		"kind":   {In: []interface{}{"1", "2"}},
	})
	if err != nil {
		t.Fatalf("compileFilters: %v", err)
	}
	st, err := builder{d: PostGIS, layer: layer}.selectPage(conds, &Sort{Field: "name"}, 10, 5)
	if err != nil {
		t.Fatalf("selectPage: %v", err)
	}
	want := `SELECT "id", "name", "height", "kind", "built", ST_AsText("geom") AS "__wkt" FROM "wells"` +
		` WHERE "height" BETWEEN ? AND ? AND "kind" IN (?, ?) AND "name" ILIKE ?` +
		` ORDER BY "name" ASC, "id" LIMIT ? OFFSET ?`
	if st.SQL != want {
		t.Errorf("SQL =\n%s\nwant\n%s", st.SQL, want)
	}
	if st.Args[4] != `%a\_b%` {
		t.Errorf("like arg = %v", st.Args[4])
	}
}
