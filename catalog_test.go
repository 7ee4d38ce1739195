package docstore

import "testing"

func TestCatalogPageRoundTrip(t *testing.T) {
	p := newPage(2, 4096)
	p.initHeader(PageTypeSchema, uint16(4096))

	cat := newCatalogState("widgets")
	cat.DataPages = []PageID{1, 2, 3}
	cat.Index["a"] = entityLoc{Page: 1, Slot: 0}
	cat.Index["b"] = entityLoc{Page: 2, Slot: 4}

	if err := writeCatalogPage(p, cat); err != nil {
		t.Fatalf("writeCatalogPage: %v", err)
	}

	got, err := readCatalogPage(p)
	if err != nil {
		t.Fatalf("readCatalogPage: %v", err)
	}
	if got.Collection != "widgets" {
		t.Fatalf("Collection = %q, want widgets", got.Collection)
	}
	if len(got.DataPages) != 3 {
		t.Fatalf("DataPages = %v, want 3 entries", got.DataPages)
	}
	if got.Index["a"].Page != 1 || got.Index["b"].Slot != 4 {
		t.Fatalf("Index mismatch: %+v", got.Index)
	}
}

func TestCatalogPageOverflow(t *testing.T) {
	p := newPage(2, 4096)
	p.initHeader(PageTypeSchema, uint16(4096))

	cat := newCatalogState("huge")
	for i := 0; i < 100000; i++ {
		cat.Index[string(rune(i))] = entityLoc{Page: PageID(i), Slot: uint16(i)}
	}

	if err := writeCatalogPage(p, cat); err != ErrCatalogOverflow {
		t.Fatalf("err = %v, want ErrCatalogOverflow", err)
	}
}

func TestCatalogPageRewriteShrinksCleanly(t *testing.T) {
	p := newPage(2, 4096)
	p.initHeader(PageTypeSchema, uint16(4096))

	big := newCatalogState("c")
	for i := 0; i < 20; i++ {
		big.Index[string(rune('a'+i))] = entityLoc{Page: PageID(i)}
	}
	if err := writeCatalogPage(p, big); err != nil {
		t.Fatalf("writeCatalogPage (big): %v", err)
	}

	small := newCatalogState("c")
	small.Index["only"] = entityLoc{Page: 1}
	if err := writeCatalogPage(p, small); err != nil {
		t.Fatalf("writeCatalogPage (small): %v", err)
	}

	got, err := readCatalogPage(p)
	if err != nil {
		t.Fatalf("readCatalogPage: %v", err)
	}
	if len(got.Index) != 1 {
		t.Fatalf("Index = %v, want exactly 1 entry (stale tail must not resurrect old entries)", got.Index)
	}
}
