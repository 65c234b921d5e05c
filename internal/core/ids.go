package core

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifier fragments for save-point names and
// import IDs. Output must be safe inside an unquoted SQL identifier.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator returns random UUIDs with the dashes removed.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CounterGenerator returns 1, 2, 3... It is deterministic, which makes it
// the generator of choice in tests.
type CounterGenerator struct {
	n atomic.Int64
}

func (g *CounterGenerator) NewID() string {
	return strconv.FormatInt(g.n.Add(1), 10)
}

// SavepointPrefix starts every save-point name created by the loader.
const SavepointPrefix = "csvimport_"

// SavepointName builds the save-point name for id.
func SavepointName(id string) string {
	return SavepointPrefix + id
}
