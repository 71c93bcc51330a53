package kml

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/GrainArc/MapEditor/geom"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document id="root_doc">
<Schema name="Wells" id="Wells">
	<SimpleField name="ID" type="string"></SimpleField>
	<SimpleField name="depth" type="float"><displayName>Depth</displayName></SimpleField>
</Schema>
<Folder><name>Wells</name>
	<Placemark>
		<name>first</name>
		<description><![CDATA[<b>keep me</b>]]></description>
		<ExtendedData><SchemaData schemaUrl="#Wells">
			<SimpleData name="ID">1</SimpleData>
			<SimpleData name="depth">12.5</SimpleData>
		</SchemaData></ExtendedData>
		<Point><coordinates>37.6,55.7</coordinates></Point>
	</Placemark>
	<Folder><name>nested</name>
	<Placemark>
		<name>second</name>
		<ExtendedData><SchemaData schemaUrl="#Wells">
			<SimpleData name="ID">2</SimpleData>
			<SimpleData name="depth">3</SimpleData>
		</SchemaData></ExtendedData>
		<Polygon><outerBoundaryIs><LinearRing><coordinates>
			0,0,1 1,0,1 1,1,1 0,0,1
		</coordinates></LinearRing></outerBoundaryIs></Polygon>
	</Placemark>
	</Folder>
</Folder>
</Document>
</kml>
`

func mustParse(t *testing.T, data string) []byte {
	t.Helper()
	doc, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := Serialize(doc)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return out
}

func TestDecode(t *testing.T) {
	p, err := Decode([]byte(sample))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.SchemaName != "Wells" || len(p.Fields) != 2 || p.Fields[1].DisplayName != "Depth" {
		t.Errorf("schema = %s %+v", p.SchemaName, p.Fields)
	}
	if len(p.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(p.Entries))
	}
	first, second := p.Entries[0], p.Entries[1]
	if first.ID != "1" || first.Properties["depth"] != "12.5" || first.Description != "<b>keep me</b>" {
		t.Errorf("first = %+v", first)
	}
	if !first.Geometry.Equal(geom.NewPoint(geom.Coord{37.6, 55.7, 0}), 0) {
		t.Errorf("first geometry = %+v", first.Geometry)
	}
	if second.Geometry.Type != geom.Polygon || second.Geometry.Parts[0][0][1] != (geom.Coord{1, 0, 1}) {
		t.Errorf("second geometry = %+v", second.Geometry)
	}
}

func TestParseCoordinates(t *testing.T) {
	cs, err := ParseCoordinates(" 1,2\n\t3,4,5 ")
	if err != nil {
		t.Fatalf("ParseCoordinates: %v", err)
	}
	if len(cs) != 2 || cs[1] != (geom.Coord{3, 4, 5}) {
		t.Errorf("coords = %v", cs)
	}
	for _, bad := range []string{"1", "1,2,3,4", "a,b"} {
		if _, err := ParseCoordinates(bad); err == nil {
			t.Errorf("ParseCoordinates(%q): expected error", bad)
		}
	}
	if got := FormatCoordinates(cs); got != "1,2 3,4,5" {
		t.Errorf("FormatCoordinates = %q", got)
	}
}

func records(t *testing.T) []Record {
	t.Helper()
	p, err := Decode([]byte(sample))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var out []Record
	for _, e := range p.Entries {
		out = append(out, Record{ID: e.ID, Name: e.Name, Properties: e.Properties, Geometry: e.Geometry})
	}
	return out
}

func patchOnce(t *testing.T, data []byte, recs []Record) ([]byte, PatchStats) {
	t.Helper()
	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	stats, err := Patch(doc, recs, PatchOptions{Fields: []string{"ID", "depth"}, SchemaURL: "#Wells", GeometryType: geom.Point, Tolerance: 1e-9})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	out, err := Serialize(doc)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return out, stats
}

func TestPatchUnchangedIsStable(t *testing.T) {
	recs := records(t)
	first, stats := patchOnce(t, []byte(sample), recs)
	if stats.Updated != 0 || stats.Appended != 0 || stats.Removed != 0 {
		t.Errorf("stats = %+v, want no changes", stats)
	}
	second, _ := patchOnce(t, first, recs)
	if !bytes.Equal(first, second) {
		t.Errorf("second patch changed output:\n%s\n---\n%s", first, second)
	}
	for _, keep := range []string{"<![CDATA[<b>keep me</b>]]>", "<coordinates>37.6,55.7</coordinates>", `name="geometryType"`} {
		if !strings.Contains(string(first), keep) {
			t.Errorf("output lost %q", keep)
		}
	}
}

func TestPatchUpdateDeleteAppend(t *testing.T) {
	recs := records(t)
	recs[0].Properties["depth"] = "20"
	recs[0].Geometry = geom.NewPoint(geom.Coord{38, 56, 0})
	recs[1].Deleted = true
	recs = append(recs, Record{
		ID:         "3",
		Name:       "third",
		Properties: map[string]string{"ID": "3", "depth": "1"},
		Geometry:   geom.NewPoint(geom.Coord{1, 2, 0}),
		IsNew:      true,
	})

	out, stats := patchOnce(t, []byte(sample), recs)
	if stats.Updated != 1 || stats.Removed != 1 || stats.Appended != 1 {
		t.Errorf("stats = %+v", stats)
	}
	p, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode patched: %v", err)
	}
	if len(p.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(p.Entries))
	}
	if p.Entries[0].Properties["depth"] != "20" || !p.Entries[0].Geometry.Equal(geom.NewPoint(geom.Coord{38, 56, 0}), 0) {
		t.Errorf("updated entry = %+v", p.Entries[0])
	}
	if p.Entries[1].ID != "3" || p.Entries[1].Name != "third" {
		t.Errorf("appended entry = %+v", p.Entries[1])
	}
	if !strings.Contains(string(out), "<![CDATA[<b>keep me</b>]]>") {
		t.Error("metadata of updated placemark lost")
	}
	if strings.Index(string(out), "<name>first</name>") > strings.Index(string(out), "<Point>") {
		t.Error("geometry not replaced in place")
	}
}

func TestPatchDeleteLast(t *testing.T) {
	recs := records(t)[:1]
	recs[0].Deleted = true
	out, _ := patchOnce(t, []byte(sample), recs)
	p, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Entries) != 1 || p.Entries[0].ID != "2" {
		t.Errorf("entries = %+v", p.Entries)
	}
}

func TestEnsureIDs(t *testing.T) {
	const bare = `<kml><Document><Placemark><name>a</name><Point><coordinates>1,2</coordinates></Point></Placemark>` +
		`<Placemark><ExtendedData><SchemaData><SimpleData name="ID">3</SimpleData></SchemaData></ExtendedData></Placemark>` +
		`<Placemark><name>c</name></Placemark></Document></kml>`
	doc, err := Parse([]byte(bare))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, err := EnsureIDs(doc)
	if err != nil {
		t.Fatalf("EnsureIDs: %v", err)
	}
	if n != 2 {
		t.Errorf("added = %d, want 2", n)
	}
	out, _ := Serialize(doc)
	p, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.SchemaName != DefaultSchemaName || len(p.Fields) != 1 || p.Fields[0].Name != IDField {
		t.Errorf("schema = %s %+v", p.SchemaName, p.Fields)
	}
	want := []string{"1", "3", "4"}
	for i, e := range p.Entries {
		if e.ID != want[i] {
			t.Errorf("entry %d id = %q, want %q", i, e.ID, want[i])
		}
	}
	again, _ := EnsureIDs(doc)
	if again != 0 {
		t.Errorf("second EnsureIDs added %d", again)
	}
}

func TestEncode(t *testing.T) {
	recs := []Record{
		{ID: "1", Properties: map[string]string{"ID": "1", "name": "a"}, Geometry: geom.NewLineString([]geom.Coord{{0, 0, 0}, {1, 1, 0}})},
		{ID: "2", Properties: map[string]string{"ID": "2"}, Deleted: true},
	}
	fields := []Field{{Name: "ID", Type: "string"}, {Name: "name", Type: "string", DisplayName: "Name"}}
	data, err := Encode("roads", "roads", fields, recs, PatchOptions{GeometryType: geom.LineString})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	p, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Entries) != 1 || p.Entries[0].Properties["name"] != "a" || p.Entries[0].Geometry.Type != geom.LineString {
		t.Errorf("entries = %+v", p.Entries)
	}
}

func TestGBKDocument(t *testing.T) {
	body := `<?xml version="1.0" encoding="GBK"?><kml><Document><Placemark><name>测试</name>` +
		`<ExtendedData><SchemaData><SimpleData name="ID">1</SimpleData></SchemaData></ExtendedData></Placemark></Document></kml>`
	gbk, err := simplifiedchinese.GBK.NewEncoder().String(body)
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}
	p, err := Decode([]byte(gbk))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Entries[0].Name != "测试" {
		t.Errorf("name = %q", p.Entries[0].Name)
	}
	out := mustParse(t, gbk)
	if !strings.Contains(string(out), `encoding="UTF-8"`) || !strings.Contains(string(out), "测试") {
		t.Errorf("output not utf-8: %s", out)
	}
}

func TestToUTF8(t *testing.T) {
	plain := []byte(`<kml><Document><name>道路</name></Document></kml>`)
	if got := ToUTF8(plain); !bytes.Equal(got, plain) {
		t.Errorf("utf-8 input changed: %s", got)
	}

	declared, _ := simplifiedchinese.GBK.NewEncoder().String(`<?xml version="1.0" encoding="GBK"?><kml><name>河流</name></kml>`)
	if got := ToUTF8([]byte(declared)); !bytes.Equal(got, []byte(declared)) {
		t.Error("declared encoding should be left to the parser")
	}

	desc := strings.Repeat("这是一个用于测试的地图图层，包含道路、河流和居民点等要素信息。", 8)
	body := `<kml><Document><Placemark><name>居民点</name><description>` + desc + `</description></Placemark></Document></kml>`
	gb, err := simplifiedchinese.GB18030.NewEncoder().String(body)
	if err != nil {
		t.Fatal(err)
	}
	got := ToUTF8([]byte(gb))
	if string(got) != body {
		t.Errorf("undeclared GB18030 not converted: %q", got[:40])
	}
}

func TestReadKMZ(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "wells.kmz")
	f, err := os.Create(src)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{"files/extra.kml": "<kml/>", "doc.kml": sample, "files/icon.png": "png"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	data, name, err := ReadKMZ(src)
	if err != nil {
		t.Fatalf("ReadKMZ: %v", err)
	}
	if name != "doc.kml" || string(data) != sample {
		t.Errorf("ReadKMZ returned %s (%d bytes)", name, len(data))
	}
}
