package scraper

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Selectors holds the CSS selectors used to pull bean data out of a
// roaster's product pages. Empty selectors are skipped at extraction time.
type Selectors struct {
	// List page selectors.
	Product    string `yaml:"product"`
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	Price      string `yaml:"price"`
	NextPage   string `yaml:"next_page"`
	SoldOut    string `yaml:"sold_out"`

	// Detail page selectors.
	FarmName     string `yaml:"farm_name"`
	ProducerName string `yaml:"producer_name"`
	Country      string `yaml:"country"`
	Region       string `yaml:"region"`
	Process      string `yaml:"process"`
	Variety      string `yaml:"variety"`
	Altitude     string `yaml:"altitude"`
	Notes        string `yaml:"notes"`
	Weight       string `yaml:"weight"`
}

// Profile describes how to scrape a single roaster's web shop.
type Profile struct {
	Slug      string    `yaml:"slug"`
	Name      string    `yaml:"name"`
	BaseURL   string    `yaml:"base_url"`
	ListURL   string    `yaml:"list_url"`
	Country   string    `yaml:"country"`
	Currency  string    `yaml:"currency"`
	MaxPages  int       `yaml:"max_pages"`
	Selectors Selectors `yaml:"selectors"`

	// Labels mapped to bean fields when detail pages use a
	// definition-list layout instead of dedicated selectors.
	FieldLabels map[string]string `yaml:"field_labels"`
}

func (p *Profile) validate() error {
	if p.Slug == "" {
		return fmt.Errorf("profile missing slug")
	}
	if p.ListURL == "" {
		return fmt.Errorf("profile %q missing list_url", p.Slug)
	}
	if p.Selectors.Product == "" || p.Selectors.Name == "" {
		return fmt.Errorf("profile %q missing product/name selectors", p.Slug)
	}
	if p.MaxPages <= 0 {
		p.MaxPages = 1
	}
	return nil
}

// LoadProfiles parses every .yaml file in the given filesystem directory
// into roaster profiles. Filenames are only used for error reporting; the
// slug inside the file identifies the roaster.
func LoadProfiles(fsys fs.FS, dir string) ([]Profile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading profile dir %s: %w", dir, err)
	}

	var profiles []Profile
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		name := path.Join(dir, e.Name())
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, ok := seen[p.Slug]; ok {
			return nil, fmt.Errorf("duplicate roaster slug %q in %s and %s", p.Slug, prev, name)
		}
		seen[p.Slug] = name
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no roaster profiles found in %s", dir)
	}
	return profiles, nil
}
