package registry

import (
	"encoding/json"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	names := []string{"alpha", "beta", "gamma"}
	for _, n := range names {
		if err := r.Register(Definition{Name: n, Description: n + " tool"}); err != nil {
			t.Fatalf("registering %s: %v", n, err)
		}
	}
	return r
}

func TestViewFor_EmptyAllowSetReturnsEveryTool(t *testing.T) {
	r := newTestRegistry(t)
	views := r.ViewFor(nil)
	if len(views) != 3 {
		t.Fatalf("expected 3 views, got %d", len(views))
	}
	want := []string{"alpha", "beta", "gamma"}
	for i, v := range views {
		if v.Name != want[i] {
			t.Errorf("view %d: expected %s, got %s (registration order not preserved)", i, want[i], v.Name)
		}
	}
}

func TestViewFor_NonEmptyAllowSetReturnsIntersection(t *testing.T) {
	r := newTestRegistry(t)
	views := r.ViewFor([]string{"gamma", "alpha", "missing"})
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d: %+v", len(views), views)
	}
	// Registration order, not allow-list order.
	if views[0].Name != "alpha" || views[1].Name != "gamma" {
		t.Errorf("expected [alpha, gamma] in registration order, got %+v", views)
	}
}

func TestRegister_ReplacingByNamePreservesPosition(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Register(Definition{Name: "alpha", Description: "replaced"}); err != nil {
		t.Fatalf("replacing alpha: %v", err)
	}
	views := r.ViewFor(nil)
	if views[0].Name != "alpha" || views[0].Description != "replaced" {
		t.Errorf("expected alpha still first with replaced description, got %+v", views[0])
	}
	if len(views) != 3 {
		t.Fatalf("replacing a name must not grow the catalog, got %d entries", len(views))
	}
}

func TestValidateArgs_NilSchemaAlwaysPasses(t *testing.T) {
	d := &Definition{Name: "no-schema"}
	if err := d.ValidateArgs(map[string]any{"anything": 1}); err != nil {
		t.Errorf("expected nil-schema definition to accept any args, got %v", err)
	}
}

func TestValidateArgs_RejectsMissingRequiredField(t *testing.T) {
	r := New()
	params := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	if err := r.Register(Definition{Name: "read_file", Parameters: params}); err != nil {
		t.Fatalf("registering: %v", err)
	}
	def := r.Get("read_file")
	if err := def.ValidateArgs(map[string]any{}); err == nil {
		t.Error("expected validation error for missing required 'path' field")
	}
	if err := def.ValidateArgs(map[string]any{"path": "/tmp/x"}); err != nil {
		t.Errorf("expected valid args to pass, got %v", err)
	}
}

func TestGet_UnknownToolReturnsNil(t *testing.T) {
	r := New()
	if d := r.Get("nope"); d != nil {
		t.Errorf("expected nil for unregistered tool, got %+v", d)
	}
}

func TestSeedBuiltins_RegistersExpectedToolSet(t *testing.T) {
	r := New()
	if err := SeedBuiltins(r); err != nil {
		t.Fatalf("seeding builtins: %v", err)
	}
	for _, name := range []string{"read_file", "write_file", "list_directory", "shell", "eval_expression", "http_get", "search_files", "calculator"} {
		if r.Get(name) == nil {
			t.Errorf("expected builtin %q to be registered", name)
		}
	}
}
