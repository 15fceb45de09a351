package field

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PortalType classifies a template portal. Spawn portals are where users
// appear when no other portal applies.
type PortalType string

const (
	PortalSpawn   PortalType = "spawn"
	PortalRegular PortalType = "regular"
	PortalHidden  PortalType = "hidden"
)

// Portal is a named, typed entry point inside a field template.
type Portal struct {
	ID   byte       `yaml:"id"`
	Name string     `yaml:"name"`
	Type PortalType `yaml:"type"`
	X    int16      `yaml:"x"`
	Y    int16      `yaml:"y"`
}

// Foothold is a static ground segment spanning [X1, X2] at height Y.
type Foothold struct {
	ID int16 `yaml:"id"`
	X1 int16 `yaml:"x1"`
	X2 int16 `yaml:"x2"`
	Y  int16 `yaml:"y"`
}

// Template is the immutable static description of one field. Fields hold a
// shared read-only reference; nothing here is mutated after Load.
type Template struct {
	ID        int32      `yaml:"id"`
	Name      string     `yaml:"name"`
	Portals   []Portal   `yaml:"portals"`
	Footholds []Foothold `yaml:"footholds"`
}

// Portal returns the portal with the given id.
func (t *Template) Portal(id byte) (Portal, bool) {
	for _, p := range t.Portals {
		if p.ID == id {
			return p, true
		}
	}
	return Portal{}, false
}

// PortalByName returns the portal with the given name.
func (t *Template) PortalByName(name string) (Portal, bool) {
	for _, p := range t.Portals {
		if p.Name == name {
			return p, true
		}
	}
	return Portal{}, false
}

// SpawnPortal returns the designated Spawn-type portal (lowest id wins).
func (t *Template) SpawnPortal() (Portal, bool) {
	for _, p := range t.Portals {
		if p.Type == PortalSpawn {
			return p, true
		}
	}
	return Portal{}, false
}

// FootholdUnder returns the first foothold (ascending id) whose X-range
// contains x. Degenerate segments (X1 >= X2) are skipped.
func (t *Template) FootholdUnder(x int16) (Foothold, bool) {
	for _, fh := range t.Footholds {
		if fh.X1 < fh.X2 && fh.X1 <= x && x <= fh.X2 {
			return fh, true
		}
	}
	return Foothold{}, false
}

func (t *Template) normalize() {
	sort.Slice(t.Portals, func(i, j int) bool { return t.Portals[i].ID < t.Portals[j].ID })
	sort.Slice(t.Footholds, func(i, j int) bool { return t.Footholds[i].ID < t.Footholds[j].ID })
}

func (t *Template) validate() error {
	seenP := map[byte]bool{}
	for _, p := range t.Portals {
		if seenP[p.ID] {
			return fmt.Errorf("field %d: duplicate portal id %d", t.ID, p.ID)
		}
		seenP[p.ID] = true
		switch p.Type {
		case PortalSpawn, PortalRegular, PortalHidden:
		default:
			return fmt.Errorf("field %d: portal %d: unknown type %q", t.ID, p.ID, p.Type)
		}
	}
	if _, ok := t.SpawnPortal(); !ok {
		return fmt.Errorf("field %d: no spawn portal", t.ID)
	}
	seenF := map[int16]bool{}
	for _, fh := range t.Footholds {
		if seenF[fh.ID] {
			return fmt.Errorf("field %d: duplicate foothold id %d", t.ID, fh.ID)
		}
		seenF[fh.ID] = true
	}
	return nil
}

type templateFile struct {
	Fields []*Template `yaml:"fields"`
}

// LoadTemplates reads a field template catalog from a yaml file.
func LoadTemplates(path string) (map[int32]*Template, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("fields: empty template path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file templateFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("fields.yaml: %w", err)
	}
	out := make(map[int32]*Template, len(file.Fields))
	for _, t := range file.Fields {
		t.normalize()
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("fields.yaml: %w", err)
		}
		if _, dup := out[t.ID]; dup {
			return nil, fmt.Errorf("fields.yaml: duplicate field id %d", t.ID)
		}
		out[t.ID] = t
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fields.yaml: no fields defined")
	}
	return out, nil
}
