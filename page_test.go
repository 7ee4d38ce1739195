package docstore

import "testing"

func TestPageInitHeaderRoundTrip(t *testing.T) {
	p := newPage(3, 4096)
	p.initHeader(PageTypeData, 4096)

	if got := p.Type(); got != PageTypeData {
		t.Fatalf("Type() = %v, want %v", got, PageTypeData)
	}
	if got := p.storedID(); got != 3 {
		t.Fatalf("storedID() = %v, want 3", got)
	}
	if got := p.freeSpaceOffset(); got != 4096 {
		t.Fatalf("freeSpaceOffset() = %d, want 4096", got)
	}
}

func TestPageCRCDetectsCorruption(t *testing.T) {
	p := newPage(1, 4096)
	p.initHeader(PageTypeData, 4096)
	p.updateCRC()

	if err := p.verify(1); err != nil {
		t.Fatalf("verify on untouched page: %v", err)
	}

	p.data[pageHeaderSize] ^= 0xff
	if err := p.verify(1); err == nil {
		t.Fatal("verify did not detect corrupted body")
	}
}

func TestPageVerifyRejectsWrongID(t *testing.T) {
	p := newPage(2, 4096)
	p.initHeader(PageTypeData, 4096)
	p.updateCRC()

	if err := p.verify(5); err == nil {
		t.Fatal("verify did not detect mismatched page id")
	}
}

func TestPageVerifyRejectsBadFreeSpaceOffset(t *testing.T) {
	p := newPage(1, 4096)
	p.initHeader(PageTypeData, 4096)
	p.setFreeSpaceOffset(2) // below pageHeaderSize
	p.updateCRC()

	if err := p.verify(1); err == nil {
		t.Fatal("verify did not detect out-of-range free-space offset")
	}
}

func TestPagePinUnpinBalance(t *testing.T) {
	p := newPage(1, 4096)
	p.pin()
	p.pin()
	if !p.isPinned() {
		t.Fatal("expected page to be pinned")
	}
	p.unpin()
	if !p.isPinned() {
		t.Fatal("expected page to still be pinned after one unpin of two")
	}
	p.unpin()
	if p.isPinned() {
		t.Fatal("expected page to be unpinned")
	}
}

func TestPageUnpinPanicsWhenNotPinned(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced unpin")
		}
	}()
	p := newPage(1, 4096)
	p.unpin()
}

func TestPageDirtyTracking(t *testing.T) {
	p := newPage(1, 4096)
	if p.IsDirty() {
		t.Fatal("new page should not be dirty")
	}
	p.MarkDirty()
	if !p.IsDirty() {
		t.Fatal("expected page to be dirty")
	}
	p.markClean()
	if p.IsDirty() {
		t.Fatal("expected page to be clean")
	}
}
