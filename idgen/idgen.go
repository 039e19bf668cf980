// Package idgen generates identifiers for messages and trace databases.
package idgen

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces unique string IDs.
type Generator interface {
	Generate() string
}

var (
	defaultMu    sync.Mutex
	defaultInUse bool
	defaultGen   Generator
)

// UseSequential makes Default return a deterministic counter. It must be
// called before the first call to Default.
func UseSequential() {
	setDefault(NewSequential())
}

// UseParallel makes Default return xid-based IDs, which are unique across
// processes but not deterministic.
func UseParallel() {
	setDefault(NewParallel())
}

func setDefault(g Generator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultInUse {
		log.Panic("cannot change id generator type after using it")
	}

	defaultGen = g
	defaultInUse = true
}

// Default returns the process-wide generator, sequential unless configured
// otherwise.
func Default() Generator {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if !defaultInUse {
		defaultGen = NewSequential()
		defaultInUse = true
	}

	return defaultGen
}

// Sequential counts up from 1.
type Sequential struct {
	prefix string
	nextID uint64
}

// NewSequential creates a sequential generator.
func NewSequential() *Sequential {
	return &Sequential{}
}

// NewSequentialWithPrefix creates a sequential generator whose IDs look like
// "<prefix>-<n>".
func NewSequentialWithPrefix(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// Generate returns the next ID.
func (g *Sequential) Generate() string {
	n := atomic.AddUint64(&g.nextID, 1)
	id := strconv.FormatUint(n, 10)

	if g.prefix == "" {
		return id
	}

	return g.prefix + "-" + id
}

// Parallel returns xid strings.
type Parallel struct{}

// NewParallel creates an xid-based generator.
func NewParallel() Parallel {
	return Parallel{}
}

// Generate returns a new xid.
func (Parallel) Generate() string {
	return xid.New().String()
}
