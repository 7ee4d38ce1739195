package docstore

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	mrand "math/rand"
	"sync"
	"time"
)

// idGenerator produces entity ids for Insert calls that don't supply one.
// Each Storage gets its own instance, seeded from crypto/rand at open time
// so ids are unpredictable without needing a process-wide generator.
type idGenerator struct {
	mu  sync.Mutex
	rnd *mrand.Rand
}

func newIDGenerator() *idGenerator {
	seed, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	var s int64
	if err != nil {
		s = time.Now().UnixNano()
	} else {
		s = seed.Int64()
	}
	return &idGenerator{rnd: mrand.New(mrand.NewSource(s))}
}

// New returns a fresh 16-byte hex-encoded id. It is not a UUID (no
// version/variant bits): the storage layer only needs opaque, collision-
// resistant identifiers, not interoperability with an external id scheme.
func (g *idGenerator) New() string {
	var b [16]byte
	g.mu.Lock()
	g.rnd.Read(b[:])
	g.mu.Unlock()
	return hex.EncodeToString(b[:])
}
