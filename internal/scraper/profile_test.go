package scraper

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func rootDirFS(t *testing.T) fs.FS {
	t.Helper()
	return os.DirFS(filepath.Join("..", ".."))
}

func TestLoadProfiles(t *testing.T) {
	fsys := fstest.MapFS{
		"profiles/one.yaml": {Data: []byte(`
slug: one
name: One Roasters
base_url: https://one.example
list_url: https://one.example/shop
selectors:
  product: li.item
  name: h2
`)},
		"profiles/two.yaml": {Data: []byte(`
slug: two
name: Two Roasters
base_url: https://two.example
list_url: https://two.example/coffee
max_pages: 4
selectors:
  product: div.card
  name: h3
field_labels:
  Farm: farm_name
`)},
		"profiles/notes.txt": {Data: []byte("not a profile")},
	}

	profiles, err := LoadProfiles(fsys, "profiles")
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}
	for _, p := range profiles {
		if p.MaxPages <= 0 {
			t.Errorf("profile %q: MaxPages not defaulted", p.Slug)
		}
	}
}

func TestLoadProfilesRejectsDuplicateSlug(t *testing.T) {
	fsys := fstest.MapFS{
		"profiles/a.yaml": {Data: []byte("slug: same\nlist_url: https://a.example\nselectors: {product: li, name: h2}\n")},
		"profiles/b.yaml": {Data: []byte("slug: same\nlist_url: https://b.example\nselectors: {product: li, name: h2}\n")},
	}
	if _, err := LoadProfiles(fsys, "profiles"); err == nil {
		t.Fatal("expected duplicate slug error")
	} else if !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadProfilesRejectsMissingSelectors(t *testing.T) {
	fsys := fstest.MapFS{
		"profiles/bad.yaml": {Data: []byte("slug: bad\nlist_url: https://bad.example\n")},
	}
	if _, err := LoadProfiles(fsys, "profiles"); err == nil {
		t.Fatal("expected validation error for missing selectors")
	}
}

func TestEmbeddedProfilesParse(t *testing.T) {
	// The shipped profiles live two directories up from this package.
	profiles, err := LoadProfiles(rootDirFS(t), "profiles")
	if err != nil {
		t.Fatalf("LoadProfiles on shipped profiles: %v", err)
	}
	if len(profiles) == 0 {
		t.Fatal("no shipped profiles parsed")
	}
}
