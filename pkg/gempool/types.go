package gempool

import (
	"math"
	"math/rand/v2"

	"github.com/argus-labs/gemrush/pkg/protocol"
)

// Vec3 is a world-space position.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Dist(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (v Vec3) Array() [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// SpawnPoint is a static gem location.
type SpawnPoint struct {
	ID       int
	Position Vec3
	Rotation [4]float64
}

// SpawnGroup is a cluster of spawn points discovered once per mission load. Points[0] is the primary
// point used for separation checks. Immutable for the duration of a match.
type SpawnGroup struct {
	ID     int
	Points []SpawnPoint
}

func (g SpawnGroup) Primary() Vec3 {
	return g.Points[0].Position
}

// Variant is a gem type. Value is the score awarded on pickup, Weight its relative spawn frequency.
type Variant struct {
	Name   string
	Value  int
	Weight int
}

// DefaultVariants are the red, yellow and blue gems of hunt mode.
func DefaultVariants() []Variant {
	return []Variant{
		{Name: "red", Value: 1, Weight: 6},
		{Name: "yellow", Value: 2, Weight: 3},
		{Name: "blue", Value: 5, Weight: 1},
	}
}

// Gem is a gem instance. Instances are recycled through the free pool, so an ID outlives a single
// pickup.
type Gem struct {
	ID       string
	Variant  string
	Value    int
	PointID  int
	Position Vec3
	Hidden   bool

	pending bool
	group   *ActiveGroup
}

// Message builds the spawn notification for g.
func (g Gem) Message() protocol.GemSpawned {
	return protocol.GemSpawned{
		GemID:    g.ID,
		Variant:  g.Variant,
		Value:    g.Value,
		PointID:  g.PointID,
		Position: g.Position.Array(),
	}
}

// ActiveGroup is a live cluster of gems bound to one SpawnGroup at a time.
type ActiveGroup struct {
	// Source is the index of the SpawnGroup the gems were placed from, -1 when unbound.
	Source int
	Gems   []*Gem

	filled   bool
	degraded bool
}

// Rand is the random source for group and variant selection.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) } //nolint:gosec // gameplay randomness

// NewSeededRand returns a deterministic source for replay-consistent modes.
func NewSeededRand(seed uint64) Rand {
	return rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // gameplay randomness
}

// Deferrer runs an action on the next scheduler tick.
type Deferrer interface {
	Defer(fn func())
}

// Listener receives pool events. Callbacks run synchronously on the owning event loop.
type Listener interface {
	GemSpawned(gem Gem)
	GemHidden(gem Gem)
	GroupCompleted(count int)
}

type nopListener struct{}

func (nopListener) GemSpawned(Gem)     {}
func (nopListener) GemHidden(Gem)      {}
func (nopListener) GroupCompleted(int) {}
