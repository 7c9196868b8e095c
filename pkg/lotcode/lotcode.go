// Package lotcode generates human-readable lot and event codes of the
// form PREFIX-SUFFIX. Codes are a display aid, not a key: the suffix is
// best-effort unique and collisions are tolerated.
package lotcode

import (
	"hash/fnv"
	"math/rand"
	"strings"
	"time"
)

const (
	suffixLen = 8
	alphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Generator produces lot codes. The zero value is not usable; use New.
type Generator struct {
	now  func() time.Time
	rand *rand.Rand
}

// New creates a lot code generator.
func New() *Generator {
	return &Generator{
		now:  time.Now,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewWithClock creates a generator with a fixed clock, for tests.
func NewWithClock(now func() time.Time, seed int64) *Generator {
	return &Generator{
		now:  now,
		rand: rand.New(rand.NewSource(seed)),
	}
}

// Generate returns PREFIX-SUFFIX where SUFFIX is an 8-character base-36
// token derived from the current time, the item id and randomness.
func (g *Generator) Generate(prefix, itemID string) string {
	h := fnv.New64a()
	h.Write([]byte(itemID))

	v := uint64(g.now().UnixNano()) ^ h.Sum64() ^ g.rand.Uint64()

	var b strings.Builder
	b.Grow(len(prefix) + 1 + suffixLen)
	b.WriteString(prefix)
	b.WriteByte('-')
	for i := 0; i < suffixLen; i++ {
		b.WriteByte(alphabet[v%36])
		v /= 36
	}
	return b.String()
}
