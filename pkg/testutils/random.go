package testutils

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"testing"
	"time"
)

var Seed uint64 //nolint:gochecknoglobals // intentionally global for test reproducibility

func init() { //nolint:gochecknoinits // intentionally using init to set seed
	Seed = uint64(time.Now().UnixNano()) //nolint:gosec // it's ok
	if envSeed := os.Getenv("TEST_SEED"); envSeed != "" {
		parsed, err := strconv.ParseUint(envSeed, 0, 64)
		if err == nil { // Only set using the env if it's valid
			Seed = parsed
		}
	}
	fmt.Printf("to reproduce: TEST_SEED=0x%x\n", Seed) //nolint:forbidigo // just for testing
}

// NewRand returns a PCG source seeded from Seed. Every test gets its own stream so parallel tests
// don't interfere with each other.
func NewRand(t *testing.T) *rand.Rand {
	t.Helper()
	return rand.New(rand.NewPCG(Seed, Seed)) //nolint:gosec // weak RNG is fine for tests
}

// OpWeight pairs a model-test operation with its relative weight.
type OpWeight struct {
	Op     string
	Weight int
}

// RandOpWeights assigns each operation a random weight in [1, 100] so every run of a model test
// explores a different operation mix.
func RandOpWeights(r *rand.Rand, ops []string) []OpWeight {
	weights := make([]OpWeight, len(ops))
	for i, op := range ops {
		weights[i] = OpWeight{Op: op, Weight: 1 + r.IntN(100)}
	}
	return weights
}

// RandWeightedOp picks an operation proportionally to its weight.
func RandWeightedOp(r *rand.Rand, weights []OpWeight) string {
	var total int
	for _, w := range weights {
		total += w.Weight
	}

	pick := r.IntN(total)
	for _, w := range weights {
		if pick < w.Weight {
			return w.Op
		}
		pick -= w.Weight
	}
	panic("unreachable")
}

// RandMapKey returns a random key from a map. Panics if the map is empty.
func RandMapKey[K comparable, V any](r *rand.Rand, m map[K]V) K {
	idx := r.IntN(len(m))
	for k := range m {
		if idx == 0 {
			return k
		}
		idx--
	}
	panic("unreachable")
}

// RandParticipantIDs returns n distinct participant ids of the form "p-<n>".
func RandParticipantIDs(r *rand.Rand, n int) []string {
	ids := make([]string, n)
	offset := r.IntN(1000)
	for i := range ids {
		ids[i] = "p-" + strconv.Itoa(offset+i)
	}
	return ids
}
