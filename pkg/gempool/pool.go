// Package gempool keeps a fixed number of gem clusters live on the map. Groups are placed far apart
// from each other, gem instances are recycled instead of destroyed, and an emptied cluster is
// replaced by a fresh one elsewhere.
package gempool

import (
	"slices"

	"github.com/argus-labs/gemrush/pkg/assert"
	"github.com/argus-labs/gemrush/pkg/statsd"
	"github.com/google/uuid"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// pickAttempts is how many random candidates PickSpawnGroup tries before giving up on separation.
const pickAttempts = 6

var (
	ErrGemNotFound         = eris.New("gem not found")
	ErrGemAlreadyCollected = eris.New("gem already collected")
	ErrNoSpawnGroups       = eris.New("no spawn groups loaded")
)

type Options struct {
	// Radius is the gem group radius. Primary points of live groups are kept at least 2×Radius apart.
	Radius float64
	// ActiveGroups is the number of gem clusters kept live at once.
	ActiveGroups int
	Variants     []Variant
	// AllowOccupiedPoints skips the occupied-point guard in FillGroup, so a point may end up holding
	// two visible gems. Kept for the single-player mode that has always run without the guard.
	AllowOccupiedPoints bool

	Rand     Rand
	Deferrer Deferrer
	Listener Listener
	Logger   zerolog.Logger
}

func (opt *Options) setDefaults() {
	if opt.Radius <= 0 {
		opt.Radius = 20
	}
	if opt.ActiveGroups <= 0 {
		opt.ActiveGroups = 2
	}
	if len(opt.Variants) == 0 {
		opt.Variants = DefaultVariants()
	}
	if opt.Rand == nil {
		opt.Rand = globalRand{}
	}
	if opt.Listener == nil {
		opt.Listener = nopListener{}
	}
}

func (opt *Options) validate() error {
	if opt.Deferrer == nil {
		return eris.New("deferrer is required")
	}
	total := 0
	for _, v := range opt.Variants {
		if v.Name == "" {
			return eris.New("variant name cannot be empty")
		}
		if v.Weight < 0 {
			return eris.Errorf("variant %s has negative weight", v.Name)
		}
		total += v.Weight
	}
	if total == 0 {
		return eris.New("variant weights sum to zero")
	}
	return nil
}

// Pool is the gem spawn pool of one session. It is not safe for concurrent use.
type Pool struct {
	opts   Options
	log    zerolog.Logger
	groups []SpawnGroup
	active []*ActiveGroup

	// claimed holds the SpawnGroup indexes bound to an ActiveGroup.
	claimed bitmap.Bitmap
	// occupants maps a spawn point to the gem last placed on it. Advisory: always revalidate.
	occupants map[int]string
	live      map[string]*Gem
	free      map[string][]*Gem

	completed int
	instances int
	peak      int

	// frozen stops refills until the next Reset or Populate.
	frozen bool
}

func New(groups []SpawnGroup, opts Options) (*Pool, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid gem pool options")
	}

	p := &Pool{
		opts:      opts,
		log:       opts.Logger,
		occupants: make(map[int]string),
		live:      make(map[string]*Gem),
		free:      make(map[string][]*Gem),
	}
	p.active = make([]*ActiveGroup, opts.ActiveGroups)
	for i := range p.active {
		p.active[i] = &ActiveGroup{Source: -1}
	}
	p.Load(groups)
	return p, nil
}

// Load replaces the spawn groups, resetting every live group first.
func (p *Pool) Load(groups []SpawnGroup) {
	p.Reset()
	p.groups = make([]SpawnGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Points) > 0 {
			p.groups = append(p.groups, g)
		}
	}
}

// Reset hides every live gem into the free pool and unbinds every ActiveGroup. Instances survive.
func (p *Pool) Reset() {
	for _, ag := range p.active {
		for _, gem := range slices.Clone(ag.Gems) {
			p.hide(gem)
		}
		ag.Gems = nil
		ag.Source = -1
		ag.filled = false
		ag.degraded = false
	}
	p.claimed.Clear()
	clear(p.occupants)
	p.completed = 0
	p.frozen = false
}

// Freeze stops the pool from replacing emptied groups. Collections already in flight still hide
// their gem, but nothing spawns and no completion is counted until Reset or Populate.
func (p *Pool) Freeze() {
	p.frozen = true
}

func (p *Pool) Frozen() bool { return p.frozen }

// Populate fills every unbound or empty ActiveGroup without counting completions.
func (p *Pool) Populate() error {
	if len(p.groups) == 0 {
		return ErrNoSpawnGroups
	}
	p.frozen = false
	p.refill()
	return nil
}

// Refill replaces every emptied ActiveGroup with a freshly picked SpawnGroup. A group that had been
// filled before counts as completed and is announced through the Listener.
func (p *Pool) Refill() {
	p.refill()
}

func (p *Pool) refill() {
	if p.frozen {
		return
	}
	for _, ag := range p.active {
		if len(ag.Gems) > 0 {
			continue
		}
		if ag.filled {
			p.completed++
			ag.filled = false
			statsd.EmitGroupCompleted()
			p.opts.Listener.GroupCompleted(p.completed)
		}
		idx, ok := p.PickSpawnGroup(ag)
		if !ok {
			continue
		}
		p.FillGroup(ag, idx)
	}
}

// PickSpawnGroup chooses the SpawnGroup the given ActiveGroup should move to. Candidates are the
// groups no other ActiveGroup holds. A random candidate is accepted when its primary point lies at
// least 2×Radius from the primary point of every other non-empty ActiveGroup. After pickAttempts
// misses it falls back to any candidate and marks the placement degraded.
func (p *Pool) PickSpawnGroup(self *ActiveGroup) (int, bool) {
	self.degraded = false

	candidates := make([]int, 0, len(p.groups))
	for i := range p.groups {
		if !p.claimedByOther(i, self) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1, false
	}

	for range pickAttempts {
		idx := candidates[p.opts.Rand.IntN(len(candidates))]
		if p.separated(idx, self) {
			return idx, true
		}
	}

	idx := candidates[p.opts.Rand.IntN(len(candidates))]
	self.degraded = true
	p.log.Warn().
		Int("spawn_group", p.groups[idx].ID).
		Int("attempts", pickAttempts).
		Float64("radius", p.opts.Radius).
		Msg("no separated spawn group found, using unconstrained pick")
	return idx, true
}

func (p *Pool) claimedByOther(idx int, self *ActiveGroup) bool {
	return p.claimed.Contains(uint32(idx)) && self.Source != idx //nolint:gosec // idx < len(groups)
}

func (p *Pool) separated(idx int, self *ActiveGroup) bool {
	primary := p.groups[idx].Primary()
	for _, ag := range p.active {
		if ag == self || ag.Source < 0 || len(ag.Gems) == 0 {
			continue
		}
		if primary.Dist(p.groups[ag.Source].Primary()) < 2*p.opts.Radius {
			return false
		}
	}
	return true
}

// FillGroup binds ag to the SpawnGroup at idx and places a gem on every free point.
func (p *Pool) FillGroup(ag *ActiveGroup, idx int) {
	if ag.Source >= 0 {
		p.claimed.Remove(uint32(ag.Source)) //nolint:gosec // Source < len(groups)
	}
	ag.Source = idx
	p.claimed.Set(uint32(idx)) //nolint:gosec // idx < len(groups)

	spawned := 0
	for _, pt := range p.groups[idx].Points {
		if !p.opts.AllowOccupiedPoints && p.occupied(pt.ID) {
			continue
		}

		gem := p.draw(p.pickVariant())
		gem.PointID = pt.ID
		gem.Position = pt.Position
		gem.Hidden = false
		gem.pending = false
		gem.group = ag

		ag.Gems = append(ag.Gems, gem)
		p.live[gem.ID] = gem
		p.occupants[pt.ID] = gem.ID
		spawned++
		p.opts.Listener.GemSpawned(*gem)
	}
	ag.filled = len(ag.Gems) > 0

	if len(p.live) > p.peak {
		p.peak = len(p.live)
	}
	assert.That(p.instances <= p.peak, "%d gem instances exceed the peak of %d live gems", p.instances, p.peak)
	if spawned > 0 {
		statsd.EmitGemsSpawned(spawned)
	}
}

// occupied revalidates the advisory occupant entry of a point.
func (p *Pool) occupied(pointID int) bool {
	gemID, ok := p.occupants[pointID]
	if !ok {
		return false
	}
	gem, alive := p.live[gemID]
	if !alive || gem.Hidden || gem.PointID != pointID {
		delete(p.occupants, pointID)
		return false
	}
	return true
}

func (p *Pool) pickVariant() Variant {
	total := 0
	for _, v := range p.opts.Variants {
		total += v.Weight
	}
	pick := p.opts.Rand.IntN(total)
	for _, v := range p.opts.Variants {
		if pick < v.Weight {
			return v
		}
		pick -= v.Weight
	}
	return p.opts.Variants[len(p.opts.Variants)-1]
}

// draw takes a pooled instance of the variant, re-skins a pooled instance of another variant, or
// creates a new one when the pool is empty.
func (p *Pool) draw(v Variant) *Gem {
	if gem := p.pop(v.Name); gem != nil {
		return gem
	}
	for _, other := range p.opts.Variants {
		if gem := p.pop(other.Name); gem != nil {
			gem.Variant = v.Name
			gem.Value = v.Value
			return gem
		}
	}
	p.instances++
	return &Gem{ID: uuid.NewString(), Variant: v.Name, Value: v.Value}
}

func (p *Pool) pop(variant string) *Gem {
	list := p.free[variant]
	if len(list) == 0 {
		return nil
	}
	gem := list[len(list)-1]
	list[len(list)-1] = nil
	p.free[variant] = list[:len(list)-1]
	return gem
}

// Collect marks a live gem as picked up and returns it. The gem stays in its group until the next
// scheduler tick, when it is hidden, returned to the free pool and the pool refills.
func (p *Pool) Collect(gemID string) (Gem, error) {
	gem, ok := p.live[gemID]
	if !ok {
		return Gem{}, eris.Wrapf(ErrGemNotFound, "gem %s", gemID)
	}
	if gem.pending {
		return Gem{}, eris.Wrapf(ErrGemAlreadyCollected, "gem %s", gemID)
	}
	gem.pending = true

	p.opts.Deferrer.Defer(func() {
		// A reset between collect and this tick already hid the gem.
		if current, ok := p.live[gemID]; !ok || current != gem || !gem.pending {
			return
		}
		p.hide(gem)
		statsd.EmitGemsRecycled(1)
		p.refill()
	})
	return *gem, nil
}

func (p *Pool) hide(gem *Gem) {
	if _, ok := p.live[gem.ID]; !ok {
		return
	}
	gem.Hidden = true
	gem.pending = false
	delete(p.live, gem.ID)
	if p.occupants[gem.PointID] == gem.ID {
		delete(p.occupants, gem.PointID)
	}
	if ag := gem.group; ag != nil {
		for i, g := range ag.Gems {
			if g == gem {
				ag.Gems = append(ag.Gems[:i], ag.Gems[i+1:]...)
				break
			}
		}
		gem.group = nil
	}
	p.free[gem.Variant] = append(p.free[gem.Variant], gem)
	p.opts.Listener.GemHidden(*gem)
}

// Gem returns a copy of a live gem.
func (p *Pool) Gem(gemID string) (Gem, bool) {
	gem, ok := p.live[gemID]
	if !ok {
		return Gem{}, false
	}
	return *gem, true
}

// LiveGems returns copies of every visible gem, grouped by ActiveGroup.
func (p *Pool) LiveGems() []Gem {
	out := make([]Gem, 0, len(p.live))
	for _, ag := range p.active {
		for _, g := range ag.Gems {
			out = append(out, *g)
		}
	}
	return out
}

// Remaining returns the number of visible gems that have not been collected.
func (p *Pool) Remaining() int {
	n := 0
	for _, g := range p.live {
		if !g.pending {
			n++
		}
	}
	return n
}

// Active returns the ActiveGroups. Callers must not mutate them.
func (p *Pool) Active() []*ActiveGroup {
	return p.active
}

func (p *Pool) Groups() []SpawnGroup {
	return p.groups
}

// Degraded reports whether any non-empty ActiveGroup was placed without the separation guarantee.
func (p *Pool) Degraded() bool {
	for _, ag := range p.active {
		if ag.degraded && len(ag.Gems) > 0 {
			return true
		}
	}
	return false
}

// Completed returns the number of groups emptied since the last Reset.
func (p *Pool) Completed() int { return p.completed }

// Live returns the number of visible gems, including collected gems awaiting the next tick.
func (p *Pool) Live() int { return len(p.live) }

// Pooled returns the number of hidden instances waiting for reuse.
func (p *Pool) Pooled() int {
	n := 0
	for _, list := range p.free {
		n += len(list)
	}
	return n
}

// Instances returns the number of gem instances ever created.
func (p *Pool) Instances() int { return p.instances }

// PeakActive returns the highest number of simultaneously visible gems.
func (p *Pool) PeakActive() int { return p.peak }

// Degraded reports whether the ActiveGroup was placed by the unconstrained fallback.
func (ag *ActiveGroup) Degraded() bool { return ag.degraded }
