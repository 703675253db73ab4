package model

import "testing"

func TestOrderedMapPreservesInsertionOrder(t *testing.T) {
	m := NewOrderedMap()
	m.Set("k2", "v2")
	m.Set("k1", "v1")
	m.Set("k2", "v2-updated")

	keys := m.Keys()
	if len(keys) != 2 || keys[0] != "k2" || keys[1] != "k1" {
		t.Fatalf("expected order [k2 k1], got %v", keys)
	}
	v, ok := m.Get("k2")
	if !ok || v != "v2-updated" {
		t.Fatalf("expected updated value, got %q ok=%v", v, ok)
	}
}

func TestOrderedMapDelete(t *testing.T) {
	m := NewOrderedMap()
	m.Set("a", "1")
	if !m.Delete("a") {
		t.Fatal("expected delete to report present")
	}
	if m.Delete("a") {
		t.Fatal("expected second delete to report absent")
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got len %d", m.Len())
	}
}

func TestOrderedMapEqualIgnoresOrder(t *testing.T) {
	a := NewOrderedMapFromPairs([]Pair{{Key: "x", Value: "1"}, {Key: "y", Value: "2"}})
	b := NewOrderedMapFromPairs([]Pair{{Key: "y", Value: "2"}, {Key: "x", Value: "1"}})
	if !a.Equal(b) {
		t.Fatal("expected maps with same content in different order to be equal")
	}
}

func TestOrderedMapJSONRoundTrip(t *testing.T) {
	m := NewOrderedMapFromPairs([]Pair{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}})
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded OrderedMap
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Keys()[0] != "b" || decoded.Keys()[1] != "a" {
		t.Fatalf("expected order preserved through JSON round-trip, got %v", decoded.Keys())
	}
}

func TestComputeReleaseKeyStableForSameContent(t *testing.T) {
	a := NewOrderedMapFromPairs([]Pair{{Key: "k1", Value: "v1"}})
	b := NewOrderedMapFromPairs([]Pair{{Key: "k1", Value: "v1"}})
	if ComputeReleaseKey("application", a) != ComputeReleaseKey("application", b) {
		t.Fatal("expected identical content to produce the same release key")
	}
}

func TestComputeReleaseKeyDiffersOnContentChange(t *testing.T) {
	a := NewOrderedMapFromPairs([]Pair{{Key: "k1", Value: "v1"}})
	b := NewOrderedMapFromPairs([]Pair{{Key: "k1", Value: "v2"}})
	if ComputeReleaseKey("application", a) == ComputeReleaseKey("application", b) {
		t.Fatal("expected different content to produce different release keys")
	}
}

func TestDiffItemsClassifiesChanges(t *testing.T) {
	oldItems := NewOrderedMapFromPairs([]Pair{
		{Key: "k1", Value: "v1"},
		{Key: "k2", Value: "v2"},
	})
	newItems := NewOrderedMapFromPairs([]Pair{
		{Key: "k1", Value: "v1-new"},
		{Key: "k3", Value: "v3"},
	})

	event := DiffItems("application", oldItems, newItems)
	if len(event.Changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(event.Changes), event.Changes)
	}
	if event.Changes["k1"].Kind != Modified {
		t.Fatalf("expected k1 MODIFIED, got %v", event.Changes["k1"].Kind)
	}
	if event.Changes["k2"].Kind != Deleted {
		t.Fatalf("expected k2 DELETED, got %v", event.Changes["k2"].Kind)
	}
	if event.Changes["k3"].Kind != Added {
		t.Fatalf("expected k3 ADDED, got %v", event.Changes["k3"].Kind)
	}
}

func TestNsKeyFormatSuffix(t *testing.T) {
	cases := map[string]string{
		"application":      "properties",
		"application.json": "json",
		"feature.yaml":     "yaml",
		"feature.yml":      "yml",
		"rules.xml":        "xml",
		"raw.txt":          "txt",
		"weird.ext":        "properties",
	}
	for ns, want := range cases {
		k := NewNsKey("app", "default", ns)
		if got := k.Format(); got != want {
			t.Errorf("Format(%q) = %q, want %q", ns, got, want)
		}
	}
}
