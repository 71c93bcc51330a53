package methods

import (
	"errors"
	"testing"
	"time"

	"github.com/GrainArc/MapEditor/models"
)

func TestValidate(t *testing.T) {
	height := models.AttributeEntry{Name: "height", Type: models.FieldNumber}
	built := models.AttributeEntry{Name: "built", Type: models.FieldDate}

	cases := []struct {
		entry models.AttributeEntry
		value interface{}
		ok    bool
	}{
		{height, "12.5", true},
		{height, 7.0, true},
		{height, "", true},
		{height, nil, true},
		{height, "tall", false},
		{height, "NaN", false},
		{built, "2024-03-01", true},
		{built, "2024/3/1", true},
		{built, "yesterday", false},
		{models.AttributeEntry{Name: "n", Type: models.FieldString}, []interface{}{"a"}, false},
	}
	for _, tc := range cases {
		err := Validate(tc.entry, tc.value)
		if tc.ok && err != nil {
			t.Errorf("Validate(%s, %v) = %v", tc.entry.Name, tc.value, err)
		}
		if !tc.ok {
			var ve *models.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.entry.Name {
				t.Errorf("Validate(%s, %v) = %v, want ValidationError", tc.entry.Name, tc.value, err)
			}
			if !errors.Is(err, models.ErrValidation) {
				t.Errorf("error does not match ErrValidation")
			}
		}
	}
}

func TestFormatEnum(t *testing.T) {
	entry := models.AttributeEntry{Name: "level", Type: models.FieldEnum, Options: map[string]string{"1": "Low", "2": "High"}}
	loc := NewLocale("en-US")
	if got := Format(entry, "2", loc); got != "High" {
		t.Errorf("Format(2) = %q, want High", got)
	}
	if got := Format(entry, "9", loc); got != "9" {
		t.Errorf("Format(9) = %q, want 9", got)
	}
	if got := Format(entry, 2.0, loc); got != "High" {
		t.Errorf("Format(2.0) = %q, want High", got)
	}
}

func TestFormatNoValue(t *testing.T) {
	loc := NewLocale("zh-CN")
	str := models.AttributeEntry{Name: "name", Type: models.FieldString}
	num := models.AttributeEntry{Name: "n", Type: models.FieldNumber}
	if got := Format(str, nil, loc); got != NoValue {
		t.Errorf("nil = %q", got)
	}
	if got := Format(str, "  ", loc); got != NoValue {
		t.Errorf("blank = %q", got)
	}
	if got := Format(str, "false", loc); got != "false" {
		t.Errorf("false = %q", got)
	}
	if got := Format(num, "0", loc); got != "0" {
		t.Errorf("0 = %q", got)
	}
}

func TestFormatDateAndNumber(t *testing.T) {
	date := models.AttributeEntry{Name: "d", Type: models.FieldDate}
	if got := Format(date, "2024-03-01", NewLocale("en-US")); got != "03/01/2024" {
		t.Errorf("en date = %q", got)
	}
	if got := Format(date, "2024-03-01", NewLocale("de")); got != "01.03.2024" {
		t.Errorf("de date = %q", got)
	}
	if got := Format(date, "2024-03-01", NewLocale("zh-CN")); got != "2024年3月1日" {
		t.Errorf("zh date = %q", got)
	}
	if got := Format(date, "not a date", NewLocale("en")); got != "not a date" {
		t.Errorf("raw fallback = %q", got)
	}
	num := models.AttributeEntry{Name: "n", Type: models.FieldDouble}
	if got := Format(num, "1234.5", NewLocale("en-US")); got != "1,234.5" {
		t.Errorf("en number = %q", got)
	}
}

func TestToStoragePrimitive(t *testing.T) {
	cases := []struct {
		entry models.AttributeEntry
		in    interface{}
		want  interface{}
	}{
		{models.AttributeEntry{Name: "a", Type: models.FieldNumber}, "12", int64(12)},
		{models.AttributeEntry{Name: "a", Type: models.FieldNumber}, "12.5", 12.5},
		{models.AttributeEntry{Name: "a", Type: models.FieldDouble}, "3", 3.0},
		{models.AttributeEntry{Name: "a", Type: models.FieldDate}, "2024/3/1", "2024-03-01"},
		{models.AttributeEntry{Name: "a", Type: models.FieldDate}, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), "2020-01-02"},
		{models.AttributeEntry{Name: "a", Type: models.FieldString}, "O'Brien", "O'Brien"},
		{models.AttributeEntry{Name: "a", Type: models.FieldString}, "", nil},
	}
	for _, tc := range cases {
		got, err := ToStoragePrimitive(tc.entry, tc.in)
		if err != nil {
			t.Fatalf("ToStoragePrimitive(%v): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ToStoragePrimitive(%v) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestValidateAttributes(t *testing.T) {
	schema := models.Schema{{Name: "height", Type: models.FieldNumber}, {Name: "name", Type: models.FieldString}}

	got, err := ValidateAttributes(schema, map[string]interface{}{"height": "12.5", "name": "A"})
	if err != nil {
		t.Fatalf("ValidateAttributes: %v", err)
	}
	if got["height"] != 12.5 || got["name"] != "A" {
		t.Errorf("normalized = %v", got)
	}

	_, err = ValidateAttributes(schema, map[string]interface{}{"colour": "red"})
	var ve *models.ValidationError
	if !errors.As(err, &ve) || ve.Field != "colour" {
		t.Errorf("unknown key: err = %v", err)
	}

	if _, err := ValidateAttributes(schema, map[string]interface{}{"height": "tall"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("bad number: err = %v", err)
	}
}

func TestRestrict(t *testing.T) {
	schema := models.Schema{{Name: "a"}, {Name: "b"}}
	got := Restrict(schema, map[string]interface{}{"a": 1, "z": 2})
	if len(got) != 1 || got["a"] != 1 {
		t.Errorf("Restrict = %v", got)
	}
}

func TestQuoteLiteral(t *testing.T) {
	if got := QuoteLiteral("it's 'x'"); got != "'it''s ''x'''" {
		t.Errorf("QuoteLiteral = %s", got)
	}
}
