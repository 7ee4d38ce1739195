package docstore

import "testing"

func TestIDGeneratorProducesDistinctIDs(t *testing.T) {
	g := newIDGenerator()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if len(id) != 32 { // 16 bytes, hex-encoded
			t.Fatalf("id length = %d, want 32", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestIDGeneratorIndependentInstancesDiffer(t *testing.T) {
	a := newIDGenerator().New()
	b := newIDGenerator().New()
	if a == b {
		t.Fatal("two fresh generators produced the same first id")
	}
}
