package annotation

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces annotation ids that do not collide across replicas.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random 128-bit ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// CounterGenerator issues "<replica>-<n>" ids from a monotonic counter. Replica labels must be
// unique per replica for the ids to be.
type CounterGenerator struct {
	Replica string
	n       atomic.Uint64
}

func (g *CounterGenerator) NewID() string {
	return g.Replica + "-" + strconv.FormatUint(g.n.Add(1), 10)
}
