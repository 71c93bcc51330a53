package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/GrainArc/MapEditor/geom"
	"github.com/GrainArc/MapEditor/kml"
	"github.com/GrainArc/MapEditor/models"
	"github.com/GrainArc/MapEditor/store"
)

// countingExec 统计语句数，fail 为真时所有语句失败
type countingExec struct {
	inner store.Executor
	calls int32
	fail  atomic.Bool
}

func (c *countingExec) Query(ctx context.Context, sql string, args ...interface{}) ([]store.Row, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.fail.Load() {
		return nil, errors.New("connection reset")
	}
	return c.inner.Query(ctx, sql, args...)
}

func (c *countingExec) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.fail.Load() {
		return 0, errors.New("connection reset")
	}
	return c.inner.Exec(ctx, sql, args...)
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

const pointsDoc = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
<Schema name="Points" id="Points">
	<SimpleField name="ID" type="string"></SimpleField>
	<SimpleField name="name" type="string"></SimpleField>
</Schema>
<Folder><name>Points</name>
	<Placemark>
		<name>one</name>
		<ExtendedData><SchemaData schemaUrl="#Points">
			<SimpleData name="ID">1</SimpleData>
			<SimpleData name="name">one</SimpleData>
		</SchemaData></ExtendedData>
		<Point><coordinates>30,60</coordinates></Point>
	</Placemark>
</Folder>
</Document>
</kml>
`

type fixture struct {
	svc      *FeatureService
	exec     *countingExec
	rel      *models.Layer
	doc      *models.Layer
	events   []Event
	recorder *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := openDB(t)
	if err := db.Exec(`CREATE TABLE wells (id INTEGER PRIMARY KEY, name TEXT, height REAL, geom TEXT)`).Error; err != nil {
		t.Fatal(err)
	}
	exec := &countingExec{inner: store.GormExecutor{DB: db}}
	rel := &models.Layer{
		ID:           "wells",
		Label:        "Wells",
		GeometryType: geom.MultiPoint,
		Backend:      models.BackendRelational,
		Table:        "wells",
		SRID:         geom.SRIDMercator,
		Schema: models.Schema{
			{Name: "name", Type: models.FieldString},
			{Name: "height", Type: models.FieldNumber},
		},
		LabelField: "name",
	}

	path := filepath.Join(t.TempDir(), "points.kml")
	if err := os.WriteFile(path, []byte(pointsDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := &models.Layer{
		ID:           "points.kml",
		Label:        "Points",
		GeometryType: geom.Point,
		Backend:      models.BackendDocument,
		FileURI:      path,
		SchemaName:   "Points",
		Schema: models.Schema{
			{Name: "ID", Type: models.FieldString},
			{Name: "name", Type: models.FieldString},
		},
		LabelField: "name",
	}
	docAdapter := store.NewDocumentAdapter(store.OSDocumentIO{})
	features, err := docAdapter.Load(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	doc.Source = models.NewFeatureSource(features...)

	recorder := NewRecorder(db)
	if err := recorder.Migrate(); err != nil {
		t.Fatal(err)
	}
	fx := &fixture{exec: exec, rel: rel, doc: doc, recorder: recorder}
	notifier := NewNotifier()
	notifier.Subscribe(func(e Event) { fx.events = append(fx.events, e) })
	project := models.NewProjectState(geom.SRIDMercator, rel, doc)
	fx.svc = NewFeatureService(project, store.NewRegistry(store.NewRelationalAdapter(exec, store.PlainSQLite), docAdapter), notifier, recorder)
	return fx
}

func TestCreateValidatesBeforeBackend(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	pt := geom.NewPoint(geom.Coord{1, 2, 0})

	f, err := fx.svc.CreateFeature(ctx, "wells", pt, map[string]interface{}{"height": "12.5"})
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	if f.ID != "1" || f.Geometry.Type != geom.MultiPoint {
		t.Errorf("created %+v", f)
	}
	before := atomic.LoadInt32(&fx.exec.calls)
	if _, err := fx.svc.CreateFeature(ctx, "wells", pt, map[string]interface{}{"height": "tall"}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("tall: %v", err)
	}
	if _, err := fx.svc.CreateFeature(ctx, "wells", pt, map[string]interface{}{"color": "red"}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("unknown key: %v", err)
	}
	if _, err := fx.svc.CreateFeature(ctx, "wells", geom.NewLineString([]geom.Coord{{0, 0, 0}, {1, 1, 0}}), nil); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("wrong geometry: %v", err)
	}
	if n := atomic.LoadInt32(&fx.exec.calls); n != before {
		t.Errorf("validation failures issued %d statements", n-before)
	}
	if fx.rel.Source.Len() != 1 {
		t.Errorf("live count = %d", fx.rel.Source.Len())
	}

	got, err := fx.svc.Read(ctx, "wells", f.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if fmt.Sprint(got["height"]) != "12.5" {
		t.Errorf("height = %v", got["height"])
	}
	next, _ := fx.svc.CreateFeature(ctx, "wells", pt, nil)
	if next.ID != "2" {
		t.Errorf("next id = %s", next.ID)
	}
}

func TestCreateBackendFailureNotAdded(t *testing.T) {
	fx := newFixture(t)
	fx.exec.fail.Store(true)
	_, err := fx.svc.CreateFeature(context.Background(), "wells", geom.NewPoint(geom.Coord{}), nil)
	if !errors.Is(err, models.ErrBackend) {
		t.Fatalf("err = %v", err)
	}
	if fx.rel.Source.Len() != 0 {
		t.Error("failed create left a feature")
	}
	if len(fx.events) != 0 {
		t.Errorf("events on failure: %v", fx.events)
	}
}

func TestUpdateMissingIssuesNoSQL(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.UpdateAttributes(context.Background(), "wells", "7", map[string]interface{}{"name": "X"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if fx.exec.calls != 0 {
		t.Errorf("statements = %d", fx.exec.calls)
	}
}

func TestUpdateRevertsOnFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f, _ := fx.svc.CreateFeature(ctx, "wells", geom.NewPoint(geom.Coord{1, 1, 0}), map[string]interface{}{"name": "A"})

	fx.exec.fail.Store(true)
	if _, err := fx.svc.UpdateAttributes(ctx, "wells", f.ID, map[string]interface{}{"name": "B"}); !errors.Is(err, models.ErrBackend) {
		t.Fatalf("err = %v", err)
	}
	cur, _ := fx.rel.Source.Find(f.ID)
	if cur.Properties["name"] != "A" || cur.Label != "A" {
		t.Errorf("optimistic change not reverted: %+v", cur)
	}

	fx.exec.fail.Store(false)
	moved := geom.NewPoint(geom.Coord{5, 5, 0})
	upd, err := fx.svc.UpdateGeometry(ctx, "wells", f.ID, moved)
	if err != nil {
		t.Fatalf("UpdateGeometry: %v", err)
	}
	if !upd.Geometry.Equal(moved.Promote(), 0) {
		t.Errorf("geometry = %+v", upd.Geometry)
	}
}

func TestUpdateFeatureSingleStatement(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f, _ := fx.svc.CreateFeature(ctx, "wells", geom.NewPoint(geom.Coord{1, 1, 0}), map[string]interface{}{"name": "A"})
	moved := geom.NewPoint(geom.Coord{5, 5, 0})

	fx.exec.fail.Store(true)
	if _, err := fx.svc.UpdateFeature(ctx, "wells", f.ID, map[string]interface{}{"name": "B"}, &moved); !errors.Is(err, models.ErrBackend) {
		t.Fatalf("err = %v", err)
	}
	cur, _ := fx.rel.Source.Find(f.ID)
	if cur.Properties["name"] != "A" || cur.Geometry.Equal(moved.Promote(), 0) {
		t.Errorf("partial change kept: %+v", cur)
	}

	fx.exec.fail.Store(false)
	before := atomic.LoadInt32(&fx.exec.calls)
	upd, err := fx.svc.UpdateFeature(ctx, "wells", f.ID, map[string]interface{}{"name": "B"}, &moved)
	if err != nil {
		t.Fatalf("UpdateFeature: %v", err)
	}
	if n := atomic.LoadInt32(&fx.exec.calls) - before; n != 1 {
		t.Errorf("statements = %d, want 1", n)
	}
	if upd.Properties["name"] != "B" || !upd.Geometry.Equal(moved.Promote(), 0) {
		t.Errorf("feature = %+v", upd)
	}
}

func TestRelationalDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f, _ := fx.svc.CreateFeature(ctx, "wells", geom.NewPoint(geom.Coord{1, 1, 0}), nil)
	if err := fx.svc.DeleteFeature(ctx, "wells", f.ID); err != nil {
		t.Fatal(err)
	}
	if fx.rel.Source.Len() != 0 {
		t.Error("deleted feature still live")
	}
	res, _ := fx.svc.Query(ctx, "wells", store.Query{})
	if res.Total != 0 {
		t.Errorf("total = %d", res.Total)
	}
	if err := fx.svc.DeleteFeature(ctx, "wells", f.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	records, err := fx.recorder.Records(ctx, "wells", 0)
	if err != nil || len(records) != 2 || records[0].Type != models.RecordDelete {
		t.Errorf("records = %+v, %v", records, err)
	}
}

func readDoc(t *testing.T, layer *models.Layer) *kml.Parsed {
	t.Helper()
	data, err := os.ReadFile(layer.FileURI)
	if err != nil {
		t.Fatal(err)
	}
	p, err := kml.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDocumentLifecycle(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	at := geom.FromLonLat(geom.NewPoint(geom.Coord{31, 61, 0}))

	f, err := fx.svc.CreateFeature(ctx, "points.kml", at, map[string]interface{}{"name": "two"})
	if err != nil {
		t.Fatalf("CreateFeature: %v", err)
	}
	if f.ID != "2" || f.IsNew {
		t.Errorf("created %+v", f)
	}
	if p := readDoc(t, fx.doc); len(p.Entries) != 2 || p.Entries[1].Properties["name"] != "two" {
		t.Fatalf("entries = %+v", p.Entries)
	}

	if _, err := fx.svc.UpdateAttributes(ctx, "points.kml", "1", map[string]interface{}{"name": "uno"}); err != nil {
		t.Fatalf("UpdateAttributes: %v", err)
	}
	if p := readDoc(t, fx.doc); p.Entries[0].Properties["name"] != "uno" {
		t.Errorf("name = %q", p.Entries[0].Properties["name"])
	}

	if err := fx.svc.DeleteFeature(ctx, "points.kml", "1"); err != nil {
		t.Fatalf("DeleteFeature: %v", err)
	}
	if p := readDoc(t, fx.doc); len(p.Entries) != 1 || p.Entries[0].ID != "2" {
		t.Errorf("entries after delete = %+v", p.Entries)
	}
	if fx.doc.Source.Len() != 1 {
		t.Errorf("live count = %d", fx.doc.Source.Len())
	}

	before, _ := os.ReadFile(fx.doc.FileURI)
	if _, err := fx.svc.SyncAsync(ctx, "points.kml").Wait(ctx); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(fx.doc.FileURI)
	if string(before) != string(after) {
		t.Error("sync without changes rewrote the document")
	}
}

func TestDocumentCustomID(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f, err := fx.svc.CreateFeature(ctx, "points.kml", geom.NewPoint(geom.Coord{}), map[string]interface{}{"ID": "well-a"})
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != "well-a" {
		t.Errorf("id = %s", f.ID)
	}
	if _, err := fx.svc.CreateFeature(ctx, "points.kml", geom.NewPoint(geom.Coord{}), map[string]interface{}{"ID": "well-a"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("duplicate ID: %v", err)
	}
	g, _ := fx.svc.CreateFeature(ctx, "points.kml", geom.NewPoint(geom.Coord{}), nil)
	if _, isInt := g.ID.Int(); isInt || len(g.ID) != 36 {
		t.Errorf("generated id = %s", g.ID)
	}
}

func TestDocumentUpdateRevertsOnSyncFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if err := os.Remove(fx.doc.FileURI); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.UpdateAttributes(ctx, "points.kml", "1", map[string]interface{}{"name": "lost"}); !errors.Is(err, models.ErrBackend) {
		t.Fatalf("err = %v", err)
	}
	cur, _ := fx.doc.Source.Find("1")
	if cur.Properties["name"] != "one" {
		t.Errorf("name = %v", cur.Properties["name"])
	}
	if err := fx.svc.DeleteFeature(ctx, "points.kml", "1"); !errors.Is(err, models.ErrBackend) {
		t.Fatalf("delete err = %v", err)
	}
	cur, _ = fx.doc.Source.Find("1")
	if cur.Deleted {
		t.Error("delete flag kept after failed sync")
	}
}

func TestNotifications(t *testing.T) {
	fx := newFixture(t)
	fx.svc.CreateFeature(context.Background(), "wells", geom.NewPoint(geom.Coord{}), nil)
	if len(fx.events) != 2 || fx.events[0].Type != EventFeaturesChanged || fx.events[1].Type != EventTableRefresh {
		t.Errorf("events = %+v", fx.events)
	}
	if fx.events[0].LayerID != "wells" || fx.events[0].FeatureID != "1" {
		t.Errorf("event = %+v", fx.events[0])
	}
}
