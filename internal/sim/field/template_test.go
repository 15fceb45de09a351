package field

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemplateFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fields.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write fields.yaml: %v", err)
	}
	return p
}

func TestLoadTemplates(t *testing.T) {
	p := writeTemplateFile(t, `
fields:
  - id: 100
    name: southport
    portals:
      - { id: 1, name: east, type: regular, x: 300, y: 90 }
      - { id: 0, name: sp, type: spawn, x: 0, y: 100 }
    footholds:
      - { id: 2, x1: 0, x2: 300, y: 100 }
      - { id: 1, x1: -300, x2: 0, y: 100 }
`)
	templates, err := LoadTemplates(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tpl, ok := templates[100]
	if !ok {
		t.Fatalf("field 100 missing")
	}
	// Normalized ascending by id.
	if tpl.Portals[0].ID != 0 || tpl.Footholds[0].ID != 1 {
		t.Fatalf("templates not normalized: %+v", tpl)
	}
	if sp, ok := tpl.SpawnPortal(); !ok || sp.Name != "sp" {
		t.Fatalf("spawn portal = %+v ok=%v", sp, ok)
	}
	if p, ok := tpl.PortalByName("east"); !ok || p.ID != 1 {
		t.Fatalf("portal by name = %+v ok=%v", p, ok)
	}
}

func TestLoadTemplates_RejectsMissingSpawn(t *testing.T) {
	p := writeTemplateFile(t, `
fields:
  - id: 100
    portals:
      - { id: 1, name: east, type: regular, x: 300, y: 90 }
    footholds: []
`)
	if _, err := LoadTemplates(p); err == nil {
		t.Fatalf("template without spawn portal should fail validation")
	}
}

func TestLoadTemplates_RejectsDuplicatePortal(t *testing.T) {
	p := writeTemplateFile(t, `
fields:
  - id: 100
    portals:
      - { id: 0, name: sp, type: spawn, x: 0, y: 0 }
      - { id: 0, name: sp2, type: spawn, x: 5, y: 0 }
    footholds: []
`)
	if _, err := LoadTemplates(p); err == nil {
		t.Fatalf("duplicate portal id should fail validation")
	}
}

func TestTemplate_FootholdUnderSkipsDegenerate(t *testing.T) {
	tpl := &Template{
		ID: 1,
		Footholds: []Foothold{
			{ID: 1, X1: 50, X2: 50, Y: 10}, // degenerate, skipped
			{ID: 2, X1: 0, X2: 100, Y: 20},
		},
	}
	fh, ok := tpl.FootholdUnder(50)
	if !ok || fh.ID != 2 {
		t.Fatalf("foothold = %+v ok=%v, want id 2", fh, ok)
	}
	if _, ok := tpl.FootholdUnder(5000); ok {
		t.Fatalf("foothold found outside every segment")
	}
}

func TestRegistry_LazyConstructionAndReuse(t *testing.T) {
	templates := map[int32]*Template{100: testTemplate(100)}
	r := NewRegistry(templates, nil)

	f1, err := r.Field(100)
	if err != nil {
		t.Fatalf("field 100: %v", err)
	}
	f2, err := r.Field(100)
	if err != nil {
		t.Fatalf("field 100 again: %v", err)
	}
	if f1 != f2 {
		t.Fatalf("registry constructed two instances for one id")
	}
	if _, err := r.Field(999); err == nil {
		t.Fatalf("unknown field id should error")
	}
}
