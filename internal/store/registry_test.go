package store

import (
	"testing"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()

	if reg == nil {
		t.Fatal("expected registry to be created")
	}

	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d registrations", reg.Count())
	}

	for _, m := range DefaultModules {
		if _, err := reg.Register(m, "x", nil); err != nil {
			t.Errorf("expected default module %s to be accepted: %v", m, err)
		}
	}
}

func TestRegistry_Isolation(t *testing.T) {
	reg := NewRegistry("url")

	params := map[string]any{"href": "a"}
	r, err := reg.Register("url", "site", params)
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	// Test modification isolation
	params["href"] = "modified"
	got, ok := reg.Lookup(r.Namespace)
	if !ok {
		t.Fatal("expected registration to exist")
	}
	if got.Parameters["href"] != "a" {
		t.Error("external modification affected internal state")
	}

	got.Parameters["href"] = "again"
	got2, _ := reg.Lookup(r.Namespace)
	if got2.Parameters["href"] != "a" {
		t.Error("returned copy shares state with registry")
	}

	if _, err := reg.Register("url", "", nil); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestRegistry_List(t *testing.T) {
	reg := NewRegistry("url", "zarr")
	reg.Register("zarr", "b", nil)
	reg.Register("url", "a", nil)

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(list))
	}
	if list[0].Namespace > list[1].Namespace {
		t.Error("expected registrations ordered by namespace")
	}
	if NamespaceFor("url", "a") == NamespaceFor("zarr", "a") {
		t.Error("expected namespaces to differ by type")
	}
}
