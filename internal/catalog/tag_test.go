package catalog

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/Ning0612/ddb/internal/domain"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/logger"
	"github.com/Ning0612/ddb/internal/testutil"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		tag      string
		valid    bool
		registry string
	}{
		{"pippo/pluto", true, ""},
		{"https://test.com/pippo/pluto", true, "https://test.com"},
		{"http://localhost:5000/public/default", true, "http://localhost:5000"},
		{"hub.example.org/ns/ds", true, "hub.example.org"},
		{"pippo", false, ""},
		{"\xff\xfe+\xfd+\xfcAAadff_-.-.,", false, ""},
		{"", false, ""},
		{"https://pippo/pluto", false, ""},
		{"a/b/c/d", false, ""},
		{"ns/da ta", false, ""},
		{"host:99999/ns/ds", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			tag, err := ParseTag(tt.tag)
			if !tt.valid {
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("error = %v, want validation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTag failed: %v", err)
			}
			if tag.Registry != tt.registry {
				t.Errorf("Registry = %q, want %q", tag.Registry, tt.registry)
			}
			if tag.String() != tt.tag {
				t.Errorf("String() = %q, want %q", tag.String(), tt.tag)
			}
		})
	}

	tag, _ := ParseTag("pippo/pluto")
	if tag.RegistryURL() != DefaultRegistry {
		t.Errorf("RegistryURL = %q", tag.RegistryURL())
	}
}

func TestTag(t *testing.T) {
	ctx := context.Background()
	c, _, cleanup := setup(t)
	defer cleanup()

	tag, err := c.GetTag(ctx)
	if err != nil {
		t.Fatalf("GetTag failed: %v", err)
	}
	if tag != "" {
		t.Errorf("fresh catalog tag = %q", tag)
	}

	for _, want := range []string{"pippo/pluto", "https://test.com/pippo/pluto"} {
		if err := c.SetTag(ctx, want); err != nil {
			t.Fatalf("SetTag(%s) failed: %v", want, err)
		}
		if tag, _ := c.GetTag(ctx); tag != want {
			t.Errorf("GetTag = %q, want %q", tag, want)
		}
	}

	if err := c.SetTag(ctx, "pippo"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad tag error = %v, want validation", err)
	}
	if tag, _ := c.GetTag(ctx); tag != "https://test.com/pippo/pluto" {
		t.Errorf("failed SetTag changed the tag to %q", tag)
	}
}

func TestPassword(t *testing.T) {
	defer func(cost int) { passwordCost = cost }(passwordCost)
	passwordCost = bcrypt.MinCost

	ctx := context.Background()
	c, _, cleanup := setup(t)
	defer cleanup()

	check := func(password string, want bool) {
		t.Helper()
		ok, err := c.VerifyPassword(ctx, password)
		if err != nil {
			t.Fatalf("VerifyPassword failed: %v", err)
		}
		if ok != want {
			t.Errorf("VerifyPassword(%q) = %v, want %v", password, ok, want)
		}
	}

	check("", true)
	check("anything", false)

	if err := c.AppendPassword(ctx, "testpassword"); err != nil {
		t.Fatalf("AppendPassword failed: %v", err)
	}
	check("testpassword", true)
	check("wrongpassword", false)
	check("", false)

	if err := c.AppendPassword(ctx, "second"); err != nil {
		t.Fatalf("AppendPassword failed: %v", err)
	}
	check("testpassword", true)
	check("second", true)

	n, err := c.ClearPasswords(ctx)
	if err != nil {
		t.Fatalf("ClearPasswords failed: %v", err)
	}
	if n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}
	check("testpassword", false)
	check("", true)

	if err := c.AppendPassword(ctx, ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty password error = %v, want validation", err)
	}
}

func TestAttributes(t *testing.T) {
	ctx := context.Background()
	c, dir, cleanup := setup(t)
	defer cleanup()

	testutil.CreateTestFile(t, dir, "a.txt", []byte("a"))
	if _, err := c.Add(ctx, "a.txt"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	attrs, err := c.Attributes(ctx)
	if err != nil {
		t.Fatalf("Attributes failed: %v", err)
	}
	if attrs.Public || attrs.Entries != 1 || attrs.LastUpdate.IsZero() {
		t.Errorf("unexpected attributes: %+v", attrs)
	}

	attrs, err = c.ChangeAttributes(ctx, map[string]domain.Value{"public": domain.Bool(true)})
	if err != nil {
		t.Fatalf("ChangeAttributes failed: %v", err)
	}
	if !attrs.Public {
		t.Error("public should be true")
	}

	tests := []struct {
		name    string
		changes map[string]domain.Value
		kind    domain.Kind
	}{
		{"nil", nil, domain.KindArgument},
		{"not a bool", map[string]domain.Value{"public": domain.String("yes")}, domain.KindValidation},
		{"unknown", map[string]domain.Value{"owner": domain.String("me")}, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.ChangeAttributes(ctx, tt.changes); domain.KindOf(err) != tt.kind {
				t.Errorf("error = %v, want kind %v", err, tt.kind)
			}
		})
	}
}

func TestStamp(t *testing.T) {
	ctx := context.Background()
	c, dir, cleanup := setup(t)
	defer cleanup()

	empty, err := c.Stamp(ctx)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	if empty.Checksum == "" {
		t.Fatal("checksum should be set")
	}

	testutil.CreateTestFile(t, dir, "a.txt", []byte("test"))
	if _, err := c.Add(ctx, "a.txt"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	added, err := c.Stamp(ctx)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	if added.Checksum == empty.Checksum {
		t.Error("checksum should change after Add")
	}
	if len(added.Entries) != 1 || added.Entries[0]["a.txt"] != "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08" {
		t.Errorf("entries = %v", added.Entries)
	}

	again, err := c.Stamp(ctx)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	if again.Checksum != added.Checksum {
		t.Error("checksum should be stable")
	}

	if _, err := c.MetaAdd(ctx, "notes", "n", ""); err != nil {
		t.Fatalf("MetaAdd failed: %v", err)
	}
	withMeta, err := c.Stamp(ctx)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	if withMeta.Checksum == added.Checksum || len(withMeta.Meta) != 1 {
		t.Errorf("metadata should change the stamp: %+v", withMeta)
	}
}

// TestPassword_NotLogged tests that the password lifecycle logs its
// outcome but neither the password nor its hash
func TestPassword_NotLogged(t *testing.T) {
	defer func(cost int) { passwordCost = cost }(passwordCost)
	passwordCost = bcrypt.MinCost

	buf := &bytes.Buffer{}
	log, err := logger.NewSlogLogger(logger.Config{
		Level:   logger.LevelDebug,
		Format:  logger.FormatJSON,
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr, Writer: buf}},
	})
	if err != nil {
		t.Fatalf("NewSlogLogger failed: %v", err)
	}
	engine.Shutdown()
	if _, err := engine.Register(engine.Options{Logger: log}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer engine.Shutdown()

	ctx := context.Background()
	c, _, cleanup := setup(t)
	defer cleanup()

	if err := c.AppendPassword(ctx, "hunter2"); err != nil {
		t.Fatalf("AppendPassword failed: %v", err)
	}
	if ok, _ := c.VerifyPassword(ctx, "hunter2"); !ok {
		t.Error("password should verify")
	}
	if ok, _ := c.VerifyPassword(ctx, "hunter3"); ok {
		t.Error("wrong password should not verify")
	}
	if n, err := c.ClearPasswords(ctx); err != nil || n != 1 {
		t.Fatalf("ClearPasswords = %d, %v", n, err)
	}

	out := buf.String()
	for _, msg := range []string{"password appended", "password verified", "password rejected", "passwords cleared"} {
		if !strings.Contains(out, msg) {
			t.Errorf("log is missing %q", msg)
		}
	}
	for _, secret := range []string{"hunter2", "hunter3", "$2a$"} {
		if strings.Contains(out, secret) {
			t.Errorf("log leaks %q:\n%s", secret, out)
		}
	}
}
