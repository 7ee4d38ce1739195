package docstore

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// entityLoc is where a logical id's record currently lives.
type entityLoc struct {
	Page PageID `cbor:"p"`
	Slot uint16 `cbor:"s"`
}

// catalogState is the catalog page's logical content: the collection
// name, the list of data pages belonging to it, and the id -> (page,
// slot) entity index. It is CBOR-encoded and rewritten whole on every
// flush, per §4.5 / §9 ("single storage per file").
type catalogState struct {
	Collection string               `cbor:"collection"`
	DataPages  []PageID             `cbor:"data_pages"`
	Index      map[string]entityLoc `cbor:"index"`
}

func newCatalogState(collection string) *catalogState {
	return &catalogState{
		Collection: collection,
		DataPages:  nil,
		Index:      make(map[string]entityLoc),
	}
}

// catalog body layout after the generic 16-byte page header: a 4-byte
// encoded-length prefix followed by CBOR bytes. The catalog is a single
// page; there is no chaining (see SPEC_FULL.md's decided Open Question).
const catalogBodyOffset = pageHeaderSize

func writeCatalogPage(p *Page, cat *catalogState) error {
	encoded, err := cbor.Marshal(cat)
	if err != nil {
		return fmt.Errorf("%w: catalog encode: %v", ErrCorrupted, err)
	}

	if catalogBodyOffset+4+len(encoded) > len(p.data) {
		return ErrCatalogOverflow
	}

	binary.LittleEndian.PutUint32(p.data[catalogBodyOffset:], uint32(len(encoded)))
	copy(p.data[catalogBodyOffset+4:], encoded)
	// zero any stale tail from a previous, larger catalog encoding.
	for i := catalogBodyOffset + 4 + len(encoded); i < len(p.data); i++ {
		p.data[i] = 0
	}
	p.setFreeSpaceOffset(uint16(len(p.data)))
	p.MarkDirty()
	return nil
}

func readCatalogPage(p *Page) (*catalogState, error) {
	if catalogBodyOffset+4 > len(p.data) {
		return nil, fmt.Errorf("%w: catalog page too small", ErrCorrupted)
	}
	n := binary.LittleEndian.Uint32(p.data[catalogBodyOffset:])
	start := catalogBodyOffset + 4
	if int(n) < 0 || start+int(n) > len(p.data) {
		return nil, fmt.Errorf("%w: catalog length out of range", ErrCorrupted)
	}

	var cat catalogState
	if err := cbor.Unmarshal(p.data[start:start+int(n)], &cat); err != nil {
		return nil, fmt.Errorf("%w: catalog decode: %v", ErrCorrupted, err)
	}
	if cat.Index == nil {
		cat.Index = make(map[string]entityLoc)
	}
	return &cat, nil
}
