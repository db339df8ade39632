// Package ids issues the lexicographically sortable identifiers used as
// primary keys for accounts, profiles, cases and donations.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces ULIDs with monotonic ordering inside one process.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator seeds a fresh generator.
func NewGenerator() *Generator {
	source := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	return &Generator{entropy: ulid.Monotonic(source, 0)}
}

// New returns the next identifier.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

var defaultGenerator = NewGenerator()

// New returns an identifier from the shared process-wide generator.
func New() string {
	return defaultGenerator.New()
}
