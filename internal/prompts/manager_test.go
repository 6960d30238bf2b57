package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManagerLoadsEmbeddedTemplates(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	for _, name := range []string{"notes_system", "notes_user", "region_system", "region_user"} {
		if _, ok := m.tpls[name]; !ok {
			t.Errorf("template %q not loaded", name)
		}
	}
}

func TestRenderSubstitutesFields(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	out, err := m.Render("notes_user", struct{ RawNotes string }{RawNotes: "mango, jasmine"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(out, `"mango, jasmine"`) {
		t.Errorf("rendered prompt missing raw notes: %q", out)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestNewManagerOverrideDir(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "notes_user.txt.tmpl")
	if err := os.WriteFile(tmpl, []byte("custom split of {{.RawNotes}}"), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	out, err := m.Render("notes_user", struct{ RawNotes string }{RawNotes: "mango"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "custom split of mango" {
		t.Errorf("override not applied, got %q", out)
	}

	// Templates the override dir does not carry stay embedded.
	if _, err := m.Render("notes_system", nil); err != nil {
		t.Errorf("embedded template lost after override: %v", err)
	}
}

func TestNewManagerOverrideDirMissing(t *testing.T) {
	if _, err := NewManager(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing override dir")
	}
}

func TestPathFor(t *testing.T) {
	if got := PathFor("notes_user@v2"); got != "notes_user@v2.txt.tmpl" {
		t.Errorf("PathFor = %q", got)
	}
}
