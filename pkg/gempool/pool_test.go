package gempool_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/argus-labs/gemrush/pkg/gempool"
	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/argus-labs/gemrush/pkg/testutils"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	spawned   []gempool.Gem
	hidden    []gempool.Gem
	completed []int
}

func (r *recorder) GemSpawned(g gempool.Gem) { r.spawned = append(r.spawned, g) }
func (r *recorder) GemHidden(g gempool.Gem)  { r.hidden = append(r.hidden, g) }
func (r *recorder) GroupCompleted(count int) { r.completed = append(r.completed, count) }

// gridGroups lays out n groups 100 units apart, each with size points close to its primary.
func gridGroups(n, size int) []gempool.SpawnGroup {
	groups := make([]gempool.SpawnGroup, n)
	pointID := 0
	for i := range groups {
		base := gempool.Vec3{X: float64(i%4) * 100, Y: float64(i/4) * 100}
		groups[i].ID = i
		for k := range size {
			groups[i].Points = append(groups[i].Points, gempool.SpawnPoint{
				ID:       pointID,
				Position: gempool.Vec3{X: base.X + float64(k), Y: base.Y},
			})
			pointID++
		}
	}
	return groups
}

func randomGroups(r *rand.Rand, n, size int) []gempool.SpawnGroup {
	groups := make([]gempool.SpawnGroup, n)
	pointID := 0
	for i := range groups {
		base := gempool.Vec3{X: r.Float64() * 200, Y: r.Float64() * 200, Z: r.Float64() * 10}
		groups[i].ID = i
		for range 1 + r.IntN(size) {
			groups[i].Points = append(groups[i].Points, gempool.SpawnPoint{
				ID:       pointID,
				Position: gempool.Vec3{X: base.X + r.Float64()*5, Y: base.Y + r.Float64()*5, Z: base.Z},
			})
			pointID++
		}
	}
	return groups
}

func newPool(t *testing.T, groups []gempool.SpawnGroup, opts gempool.Options) (*gempool.Pool, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(time.Unix(0, 0))
	opts.Deferrer = sched
	p, err := gempool.New(groups, opts)
	require.NoError(t, err)
	return p, sched
}

func assertSeparated(t *testing.T, p *gempool.Pool, radius float64) {
	t.Helper()
	if p.Degraded() {
		return
	}
	groups := p.Groups()
	active := p.Active()
	for i, a := range active {
		for _, b := range active[i+1:] {
			if len(a.Gems) == 0 || len(b.Gems) == 0 {
				continue
			}
			d := groups[a.Source].Primary().Dist(groups[b.Source].Primary())
			assert.GreaterOrEqual(t, d, 2*radius, "live groups %d and %d too close", a.Source, b.Source)
		}
	}
}

func assertNoDuplicateOccupants(t *testing.T, p *gempool.Pool) {
	t.Helper()
	seen := make(map[int]string)
	for _, g := range p.LiveGems() {
		if other, dup := seen[g.PointID]; dup {
			t.Errorf("point %d holds gems %s and %s", g.PointID, other, g.ID)
		}
		seen[g.PointID] = g.ID
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := gempool.New(gridGroups(2, 1), gempool.Options{})
	require.Error(t, err, "deferrer is required")

	_, err = gempool.New(gridGroups(2, 1), gempool.Options{
		Deferrer: scheduler.New(time.Now()),
		Variants: []gempool.Variant{{Name: "red", Weight: 0}},
	})
	require.Error(t, err)
}

func TestPopulate_FillsSeparatedGroups(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, _ := newPool(t, gridGroups(8, 3), gempool.Options{
		Radius:       20,
		ActiveGroups: 3,
		Rand:         testutils.NewRand(t),
		Listener:     rec,
	})
	require.NoError(t, p.Populate())

	assert.Equal(t, 9, p.Live())
	assert.Len(t, rec.spawned, 9)
	assert.Empty(t, rec.completed, "initial fill is not a completion")
	assert.False(t, p.Degraded())
	assertSeparated(t, p, 20)

	sources := map[int]bool{}
	for _, ag := range p.Active() {
		assert.False(t, sources[ag.Source], "spawn group bound twice")
		sources[ag.Source] = true
	}
}

func TestPopulate_NoGroups(t *testing.T) {
	t.Parallel()

	p, _ := newPool(t, nil, gempool.Options{})
	assert.True(t, eris.Is(p.Populate(), gempool.ErrNoSpawnGroups))
}

func TestCollect_DefersHideAndRefill(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, sched := newPool(t, gridGroups(4, 2), gempool.Options{
		ActiveGroups: 1,
		Variants:     []gempool.Variant{{Name: "red", Value: 1, Weight: 1}},
		Rand:         testutils.NewRand(t),
		Listener:     rec,
	})
	require.NoError(t, p.Populate())
	gems := p.LiveGems()
	require.Len(t, gems, 2)

	got, err := p.Collect(gems[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Value)
	assert.Equal(t, 2, p.Live(), "collected gem stays until the next tick")
	assert.Equal(t, 1, p.Remaining())

	_, err = p.Collect(gems[0].ID)
	assert.True(t, eris.Is(err, gempool.ErrGemAlreadyCollected))
	_, err = p.Collect("nope")
	assert.True(t, eris.Is(err, gempool.ErrGemNotFound))

	sched.Advance(0)
	assert.Equal(t, 1, p.Live())
	assert.Equal(t, 1, p.Pooled())
	require.Len(t, rec.hidden, 1)
	assert.Equal(t, gems[0].ID, rec.hidden[0].ID)
	assert.Empty(t, rec.completed)

	_, err = p.Collect(gems[1].ID)
	require.NoError(t, err)
	sched.Advance(0)

	assert.Equal(t, []int{1}, rec.completed)
	assert.Equal(t, 1, p.Completed())
	assert.Equal(t, 2, p.Live(), "emptied group is replaced")
	assert.Equal(t, 2, p.Instances(), "refill reuses pooled instances")
	assert.Zero(t, p.Pooled())
}

func TestDraw_ReskinsOtherVariants(t *testing.T) {
	t.Parallel()

	p, sched := newPool(t, gridGroups(2, 1), gempool.Options{
		ActiveGroups: 1,
		Rand:         testutils.NewRand(t),
	})
	require.NoError(t, p.Populate())

	for range 50 {
		gems := p.LiveGems()
		require.Len(t, gems, 1)
		_, err := p.Collect(gems[0].ID)
		require.NoError(t, err)
		sched.Advance(0)
	}
	assert.Equal(t, 1, p.Instances(), "one live gem needs one instance regardless of variant")
	assert.Equal(t, 50, p.Completed())
}

func TestReset_ReturnsEverythingToPool(t *testing.T) {
	t.Parallel()

	p, sched := newPool(t, gridGroups(6, 2), gempool.Options{ActiveGroups: 2, Rand: testutils.NewRand(t)})
	require.NoError(t, p.Populate())
	gem := p.LiveGems()[0]
	_, err := p.Collect(gem.ID)
	require.NoError(t, err)

	p.Reset()
	assert.Zero(t, p.Live())
	assert.Equal(t, 4, p.Pooled())
	assert.Zero(t, p.Completed())

	// The deferred hide from before the reset is stale and must not touch the pool.
	sched.Advance(0)
	assert.Zero(t, p.Live())
	assert.Equal(t, 4, p.Pooled())
	for _, ag := range p.Active() {
		assert.Equal(t, -1, ag.Source)
	}
}

func TestFreeze_StopsRefill(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	p, sched := newPool(t, gridGroups(4, 1), gempool.Options{
		ActiveGroups: 1,
		Rand:         testutils.NewRand(t),
		Listener:     rec,
	})
	require.NoError(t, p.Populate())
	gems := p.LiveGems()
	require.Len(t, gems, 1)

	_, err := p.Collect(gems[0].ID)
	require.NoError(t, err)
	p.Freeze()
	assert.True(t, p.Frozen())
	spawned := len(rec.spawned)

	sched.Advance(0)
	require.Len(t, rec.hidden, 1)
	assert.Equal(t, gems[0].ID, rec.hidden[0].ID)
	assert.Zero(t, p.Live())
	assert.Len(t, rec.spawned, spawned)
	assert.Empty(t, rec.completed)
	assert.Zero(t, p.Completed())

	p.Refill()
	assert.Zero(t, p.Live(), "explicit refill is also held")

	p.Reset()
	assert.False(t, p.Frozen())

	p.Freeze()
	require.NoError(t, p.Populate())
	assert.False(t, p.Frozen())
	assert.Equal(t, 1, p.Live())
	assert.Empty(t, rec.completed, "populate does not count completions")
}

func TestPickSpawnGroup_DegradedFallback(t *testing.T) {
	t.Parallel()

	// Every group sits within 2×radius of every other, so separation is impossible.
	groups := []gempool.SpawnGroup{
		{ID: 0, Points: []gempool.SpawnPoint{{ID: 0, Position: gempool.Vec3{X: 0}}}},
		{ID: 1, Points: []gempool.SpawnPoint{{ID: 1, Position: gempool.Vec3{X: 10}}}},
		{ID: 2, Points: []gempool.SpawnPoint{{ID: 2, Position: gempool.Vec3{X: 20}}}},
	}
	p, _ := newPool(t, groups, gempool.Options{Radius: 20, ActiveGroups: 2, Rand: testutils.NewRand(t)})
	require.NoError(t, p.Populate())

	assert.True(t, p.Degraded())
	assert.Equal(t, 2, p.Live())
	assert.NotEqual(t, p.Active()[0].Source, p.Active()[1].Source, "fallback still respects claims")
	assert.True(t, p.Active()[1].Degraded())
}

func TestPickSpawnGroup_AllClaimed(t *testing.T) {
	t.Parallel()

	p, _ := newPool(t, gridGroups(1, 2), gempool.Options{ActiveGroups: 2, Rand: testutils.NewRand(t)})
	require.NoError(t, p.Populate())
	assert.Equal(t, 2, p.Live(), "second active group has nowhere to go")
	assert.Equal(t, -1, p.Active()[1].Source)
}

func TestFillGroup_OccupiedPointGuard(t *testing.T) {
	t.Parallel()

	// Two mission groups that share point 7.
	shared := gempool.SpawnPoint{ID: 7, Position: gempool.Vec3{X: 1}}
	groups := []gempool.SpawnGroup{
		{ID: 0, Points: []gempool.SpawnPoint{{ID: 1}, shared}},
		{ID: 1, Points: []gempool.SpawnPoint{{ID: 2, Position: gempool.Vec3{X: 100}}, shared}},
	}

	t.Run("guard skips occupied points", func(t *testing.T) {
		t.Parallel()
		p, _ := newPool(t, groups, gempool.Options{Radius: 1, ActiveGroups: 2, Rand: testutils.NewRand(t)})
		require.NoError(t, p.Populate())
		assert.Equal(t, 3, p.Live())
		assertNoDuplicateOccupants(t, p)
	})

	t.Run("relaxed guard allows duplicates", func(t *testing.T) {
		t.Parallel()
		p, _ := newPool(t, groups, gempool.Options{
			Radius:              1,
			ActiveGroups:        2,
			AllowOccupiedPoints: true,
			Rand:                testutils.NewRand(t),
		})
		require.NoError(t, p.Populate())
		assert.Equal(t, 4, p.Live())
	})
}

func TestClusterSpawnPoints(t *testing.T) {
	t.Parallel()

	points := []gempool.SpawnPoint{
		{ID: 0, Position: gempool.Vec3{X: 0}},
		{ID: 1, Position: gempool.Vec3{X: 50}},
		{ID: 2, Position: gempool.Vec3{X: 3}},
		{ID: 3, Position: gempool.Vec3{X: 52}},
		{ID: 4, Position: gempool.Vec3{X: 9}},
	}
	groups := gempool.ClusterSpawnPoints(points, 5)
	require.Len(t, groups, 3)

	ids := func(g gempool.SpawnGroup) []int {
		var out []int
		for _, p := range g.Points {
			out = append(out, p.ID)
		}
		return out
	}
	assert.Equal(t, []int{0, 2}, ids(groups[0]))
	assert.Equal(t, []int{1, 3}, ids(groups[1]))
	assert.Equal(t, []int{4}, ids(groups[2]))
	assert.Equal(t, gempool.Vec3{X: 50}, groups[1].Primary())
}

func TestSeededRand_ReplaysSelection(t *testing.T) {
	t.Parallel()

	run := func() []int {
		p, _ := newPool(t, gridGroups(12, 2), gempool.Options{ActiveGroups: 3, Rand: gempool.NewSeededRand(42)})
		require.NoError(t, p.Populate())
		var sources []int
		for _, ag := range p.Active() {
			sources = append(sources, ag.Source)
		}
		return sources
	}
	assert.Equal(t, run(), run())
}

// -------------------------------------------------------------------------------------------------
// Model-based fuzzing
// -------------------------------------------------------------------------------------------------
// Random collect/tick/reset sequences over random maps, checking conservation, occupancy and
// separation after every step.
// -------------------------------------------------------------------------------------------------

func TestPool_ModelFuzz(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)

	const (
		opsMax    = 1 << 11
		opCollect = "collect"
		opTick    = "tick"
		opReset   = "reset"
	)
	weights := testutils.RandOpWeights(prng, []string{opCollect, opTick, opReset})
	weights[2].Weight = 1 + weights[2].Weight/20

	const radius = 15.0
	p, sched := newPool(t, randomGroups(prng, 4+prng.IntN(16), 4), gempool.Options{
		Radius:       radius,
		ActiveGroups: 1 + prng.IntN(4),
		Rand:         prng,
	})
	require.NoError(t, p.Populate())

	completed := 0
	for range opsMax {
		switch testutils.RandWeightedOp(prng, weights) {
		case opCollect:
			gems := p.LiveGems()
			if len(gems) == 0 {
				continue
			}
			gem := gems[prng.IntN(len(gems))]
			_, err := p.Collect(gem.ID)
			if err != nil {
				assert.True(t, eris.Is(err, gempool.ErrGemAlreadyCollected))
			}
		case opTick:
			sched.Advance(0)
			assertSeparated(t, p, radius)
			assert.GreaterOrEqual(t, p.Completed(), completed, "completion counter is monotonic")
			completed = p.Completed()
		case opReset:
			p.Reset()
			completed = 0
			require.NoError(t, p.Populate())
			assertSeparated(t, p, radius)
		default:
			panic("unreachable")
		}

		assert.LessOrEqual(t, p.Instances(), p.PeakActive())
		assert.Equal(t, p.Instances(), p.Live()+p.Pooled())
		assertNoDuplicateOccupants(t, p)
	}
}
