package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/testutil"
)

func TestMetaAdd(t *testing.T) {
	ctx := context.Background()
	c, _, cleanup := setup(t)
	defer cleanup()

	if _, err := c.MetaAdd(ctx, "test", "123", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("singular key with Add error = %v, want validation", err)
	}

	m, err := c.MetaAdd(ctx, "tests", `{"test": true}`, "")
	if err != nil {
		t.Fatalf("MetaAdd failed: %v", err)
	}
	data, err := json.Marshal(m.Data)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"test":true}` {
		t.Errorf("data = %s", data)
	}
	if m.ID == "" {
		t.Error("id should be set")
	}
	if time.Since(m.ModTime) > 3*time.Second {
		t.Errorf("mtime = %v", m.ModTime)
	}
}

func TestMetaSet(t *testing.T) {
	ctx := context.Background()
	c, dir, cleanup := setup(t)
	defer cleanup()

	f := testutil.CreateTestFile(t, dir, "test.txt", nil)
	if _, err := c.Add(ctx, f); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if _, err := c.MetaSet(ctx, "tests", "123", f); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("plural key with Set error = %v, want validation", err)
	}
	for _, want := range []string{"abc", "efg"} {
		m, err := c.MetaSet(ctx, "test", want, f)
		if err != nil {
			t.Fatalf("MetaSet failed: %v", err)
		}
		if s, _ := m.Data.AsString(); s != want {
			t.Errorf("data = %v, want %s", m.Data.Interface(), want)
		}
		if m.Path != "test.txt" {
			t.Errorf("path = %q", m.Path)
		}
	}

	res, err := c.MetaGet(ctx, "test", f)
	if err != nil {
		t.Fatalf("MetaGet failed: %v", err)
	}
	if len(res.Records) != 1 {
		t.Errorf("Set should replace, got %d records", len(res.Records))
	}
}

func TestMetaRemove(t *testing.T) {
	ctx := context.Background()
	c, _, cleanup := setup(t)
	defer cleanup()

	m, err := c.MetaSet(ctx, "test", "123", "")
	if err != nil {
		t.Fatalf("MetaSet failed: %v", err)
	}
	tests := []struct {
		id   string
		want int
	}{
		{"invalid", 0},
		{m.ID, 1},
		{m.ID, 0},
	}
	for _, tt := range tests {
		n, err := c.MetaRemove(ctx, tt.id)
		if err != nil {
			t.Fatalf("MetaRemove(%s) failed: %v", tt.id, err)
		}
		if n != tt.want {
			t.Errorf("MetaRemove(%s) = %d, want %d", tt.id, n, tt.want)
		}
	}
	if _, err := c.MetaRemove(ctx, ""); domain.KindOf(err) != domain.KindArgument {
		t.Errorf("empty id error = %v, want argument", err)
	}
}

func TestMetaGet(t *testing.T) {
	ctx := context.Background()
	c, _, cleanup := setup(t)
	defer cleanup()

	if _, err := c.MetaSet(ctx, "abc", "true", ""); err != nil {
		t.Fatalf("MetaSet failed: %v", err)
	}
	if _, err := c.MetaGet(ctx, "nonexistant", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing key error = %v, want not found", err)
	}
	if _, err := c.MetaGet(ctx, "abc", "123"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unindexed path error = %v, want not found", err)
	}

	res, err := c.MetaGet(ctx, "abc", "")
	if err != nil {
		t.Fatalf("MetaGet failed: %v", err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var m domain.Meta
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("singular result should decode as one record: %v (%s)", err, data)
	}
	if b, ok := m.Data.AsBool(); !ok || !b {
		t.Errorf("data = %v, want true", m.Data.Interface())
	}
}

func TestMetaGet_Plural(t *testing.T) {
	ctx := context.Background()
	c, _, cleanup := setup(t)
	defer cleanup()

	for _, data := range []string{`{"test":true}`, `{"test":false}`, `{"test":null}`} {
		if _, err := c.MetaAdd(ctx, "tests", data, ""); err != nil {
			t.Fatalf("MetaAdd failed: %v", err)
		}
	}
	res, err := c.MetaGet(ctx, "tests", "")
	if err != nil {
		t.Fatalf("MetaGet failed: %v", err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var records []domain.Meta
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("plural result should decode as a list: %v (%s)", err, data)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if b, _ := records[1].Data.Get("test"); b.Interface() != false {
		t.Errorf("records out of insertion order: %s", data)
	}
}

func TestMetaUnset(t *testing.T) {
	ctx := context.Background()
	c, dir, cleanup := setup(t)
	defer cleanup()

	f := testutil.CreateTestFile(t, dir, "test.txt", nil)
	if _, err := c.Add(ctx, f); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := c.MetaSet(ctx, "abc", "[1,2,3]", ""); err != nil {
		t.Fatalf("MetaSet failed: %v", err)
	}

	tests := []struct {
		path string
		want int
	}{
		{f, 0},
		{"", 1},
		{"", 0},
	}
	for _, tt := range tests {
		n, err := c.MetaUnset(ctx, "abc", tt.path)
		if err != nil {
			t.Fatalf("MetaUnset failed: %v", err)
		}
		if n != tt.want {
			t.Errorf("MetaUnset(abc, %q) = %d, want %d", tt.path, n, tt.want)
		}
	}
}

func TestMetaList(t *testing.T) {
	ctx := context.Background()
	c, dir, cleanup := setup(t)
	defer cleanup()

	if _, err := c.MetaAdd(ctx, "annotations", "123", ""); err != nil {
		t.Fatalf("MetaAdd failed: %v", err)
	}
	if _, err := c.MetaAdd(ctx, "examples", "abc", ""); err != nil {
		t.Fatalf("MetaAdd failed: %v", err)
	}
	if _, err := c.MetaAdd(ctx, "examples", "def", ""); err != nil {
		t.Fatalf("MetaAdd failed: %v", err)
	}

	list, err := c.MetaList(ctx, "")
	if err != nil {
		t.Fatalf("MetaList failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d keys, want 2", len(list))
	}
	if list[1].Key != "examples" || list[1].Count != 2 {
		t.Errorf("summary = %+v", list[1])
	}

	f := testutil.CreateTestFile(t, dir, "sub/test.txt", []byte("x"))
	if _, err := c.Add(ctx, f); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := c.MetaSet(ctx, "note", "n", filepath.Join(dir, "sub", "test.txt")); err != nil {
		t.Fatalf("MetaSet failed: %v", err)
	}
	list, err = c.MetaList(ctx, f)
	if err != nil {
		t.Fatalf("MetaList failed: %v", err)
	}
	if len(list) != 1 || list[0].Key != "note" {
		t.Errorf("entry scope summary = %+v", list)
	}

	// a key used at catalog and entry scope is listed once
	if _, err := c.MetaAdd(ctx, "examples", "ghi", f); err != nil {
		t.Fatalf("MetaAdd failed: %v", err)
	}
	list, err = c.MetaList(ctx, "")
	if err != nil {
		t.Fatalf("MetaList failed: %v", err)
	}
	want := []domain.MetaSummary{
		{Key: "annotations", Count: 1},
		{Key: "examples", Count: 3},
		{Key: "note", Count: 1},
	}
	if len(list) != len(want) {
		t.Fatalf("got %+v, want %+v", list, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("summary %d = %+v, want %+v", i, list[i], want[i])
		}
	}
}
